package dynaplan

// ResponseState records the outcome of the most recent write or delete
// for one object. Conditional write rejections are reported here rather
// than raised.
type ResponseState struct {
	HadError    bool
	Errors      []string
	FieldErrors map[string][]string
}

// Reset clears all recorded state.
func (s *ResponseState) Reset() {
	s.HadError = false
	s.Errors = nil
	s.FieldErrors = nil
}

func (s *ResponseState) addError(msg string) {
	s.HadError = true
	s.Errors = append(s.Errors, msg)
}

func (s *ResponseState) addFieldError(field, msg string) {
	s.HadError = true
	if s.FieldErrors == nil {
		s.FieldErrors = make(map[string][]string)
	}
	s.FieldErrors[field] = append(s.FieldErrors[field], msg)
}

// ModelState can be embedded in record types to receive per-object write
// outcomes and change tracking. It contributes no attributes to the
// stored record.
type ModelState struct {
	state    ResponseState
	snapshot Item
}

// ResponseState returns the outcome of the object's most recent write.
func (m *ModelState) ResponseState() *ResponseState { return &m.state }

func (m *ModelState) storedItem() Item        { return m.snapshot }
func (m *ModelState) setStoredItem(item Item) { m.snapshot = item }

// stateHolder is satisfied by records embedding ModelState.
type stateHolder interface {
	ResponseState() *ResponseState
}

// snapshotHolder tracks the last item written to or read from the table,
// so unchanged puts can be skipped.
type snapshotHolder interface {
	storedItem() Item
	setStoredItem(Item)
}
