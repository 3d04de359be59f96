package dynaplan

import (
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test record types shared across the package tests.

type product struct {
	ModelState
	Category string `dynamodbav:"category" dynaplan:"hash"`
	SKU      string `dynamodbav:"sku" dynaplan:"range"`
	Name     string `dynamodbav:"name"`
	Price    int    `dynamodbav:"price"`
}

type account struct {
	UserID string `dynamodbav:"user_id" dynaplan:"hash"`
	Email  string `dynamodbav:"email"`
}

type event struct {
	Day string `dynamodbav:"day" dynaplan:"hash"`
	Seq int    `dynamodbav:"seq" dynaplan:"range"`
}

func productSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := InferSchema(reflect.TypeFor[product]())
	require.NoError(t, err)
	return schema
}

func accountSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := InferSchema(reflect.TypeFor[account]())
	require.NoError(t, err)
	return schema
}

func TestInferSchema(t *testing.T) {
	t.Run("hash and range", func(t *testing.T) {
		schema := productSchema(t)

		assert.Equal(t, "category", schema.HashKey.Name)
		require.NotNil(t, schema.RangeKey)
		assert.Equal(t, "sku", schema.RangeKey.Name)
		assert.Equal(t, DefaultDelimiter, schema.Delimiter)
		assert.Equal(t, DefaultIDAttribute, schema.IDAttribute)
	})

	t.Run("hash only", func(t *testing.T) {
		schema := accountSchema(t)

		assert.Equal(t, "user_id", schema.HashKey.Name)
		assert.False(t, schema.HasRangeKey())
	})

	t.Run("no hash key", func(t *testing.T) {
		type bare struct {
			Name string `dynamodbav:"name"`
		}

		_, err := InferSchema(reflect.TypeFor[bare]())

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})

	t.Run("duplicate hash key", func(t *testing.T) {
		type doubled struct {
			A string `dynamodbav:"a" dynaplan:"hash"`
			B string `dynamodbav:"b" dynaplan:"hash"`
		}

		_, err := InferSchema(reflect.TypeFor[doubled]())

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})

	t.Run("duplicate range key", func(t *testing.T) {
		type doubled struct {
			A string `dynamodbav:"a" dynaplan:"hash"`
			B string `dynamodbav:"b" dynaplan:"range"`
			C string `dynamodbav:"c" dynaplan:"range"`
		}

		_, err := InferSchema(reflect.TypeFor[doubled]())

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})

	t.Run("unknown role", func(t *testing.T) {
		type wrong struct {
			A string `dynamodbav:"a" dynaplan:"primary"`
		}

		_, err := InferSchema(reflect.TypeFor[wrong]())

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})

	t.Run("attribute name falls back to field name", func(t *testing.T) {
		type untagged struct {
			Region string `dynaplan:"hash"`
		}

		schema, err := InferSchema(reflect.TypeFor[untagged]())

		require.NoError(t, err)
		assert.Equal(t, "Region", schema.HashKey.Name)
	})
}

func TestKeyAttributeType(t *testing.T) {
	schema, err := InferSchema(reflect.TypeFor[event]())
	require.NoError(t, err)

	assert.Equal(t, types.ScalarAttributeTypeS, schema.HashKey.AttributeType())
	assert.Equal(t, types.ScalarAttributeTypeN, schema.RangeKey.AttributeType())
}

func TestNamespaceTableName(t *testing.T) {
	tests := []struct {
		name      string
		namespace Namespace
		want      string
	}{
		{
			name:      "all segments",
			namespace: Namespace{Service: "orders", Environment: "prod"},
			want:      "orders-prod-products",
		},
		{
			name:      "no environment",
			namespace: Namespace{Service: "orders"},
			want:      "orders-products",
		},
		{
			name:      "empty namespace",
			namespace: Namespace{},
			want:      "products",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.namespace.TableName("products"))
		})
	}
}

func TestObjectID(t *testing.T) {
	table := NewTable[product]("products", nil)

	t.Run("derives from key fields", func(t *testing.T) {
		id, err := table.ObjectID(&product{Category: "books", SKU: "B-100"})

		require.NoError(t, err)
		assert.Equal(t, "books|B-100", id)
	})

	t.Run("fails when key fields unset", func(t *testing.T) {
		_, err := table.ObjectID(&product{Category: "books"})

		var keyErr *KeyError
		require.ErrorAs(t, err, &keyErr)
	})

	t.Run("set distributes components", func(t *testing.T) {
		var p product
		err := table.SetObjectID(&p, "books|B-100")

		require.NoError(t, err)
		assert.Equal(t, "books", p.Category)
		assert.Equal(t, "B-100", p.SKU)
	})

	t.Run("round trips", func(t *testing.T) {
		var p product
		require.NoError(t, table.SetObjectID(&p, "music|M-7"))

		id, err := table.ObjectID(&p)
		require.NoError(t, err)
		assert.Equal(t, "music|M-7", id)
	})
}
