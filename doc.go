// Package dynaplan is a client-side access layer over DynamoDB style
// partition-key/sort-key tables, built on the AWS SDK for Go v2.
//
// Given a flexible attribute filter, the package decides the cheapest
// correct way to satisfy it: a chunked multi-get by full primary key,
// one range query per derived partition key, or an opt-in full table
// scan. It then executes that plan lazily, handling pagination,
// unprocessed-item retries, and batched or conditional writes.
//
// # Records
//
// Record types declare their key fields with the dynaplan struct tag and
// name attributes with dynamodbav tags:
//
//	type Product struct {
//	    dynaplan.ModelState
//	    Category string `dynamodbav:"category" dynaplan:"hash"`
//	    SKU      string `dynamodbav:"sku" dynaplan:"range"`
//	    Name     string `dynamodbav:"name"`
//	    Price    int    `dynamodbav:"price"`
//	}
//
// Embedding [ModelState] is optional; it carries soft write outcomes and
// change tracking.
//
// # Reading
//
// Filters are plain maps. Keys name an attribute with an optional
// operator suffix:
//
//	table := dynaplan.NewTable[Product]("products", client)
//	seq, err := table.Get(ctx, dynaplan.Filter{
//	    "category":   "books",
//	    "price__lte": 20,
//	})
//	for product, err := range seq {
//	    ...
//	}
//
// The sequence is lazy: no request is issued until it is consumed, and
// abandoning iteration early is always safe.
//
// # Writing
//
// Writes are full-record replaces. A batch scope on the context buffers
// puts and deletes into batched writes; the outermost close flushes:
//
//	ctx, batch := dynaplan.OpenBatch(ctx)
//	_ = table.Put(ctx, &a)
//	_ = table.Put(ctx, &b)
//	err := batch.Close(ctx)
//
// Conditional writes bypass batching. A rejected condition is reported
// on the record's [ResponseState] instead of returning an error.
package dynaplan
