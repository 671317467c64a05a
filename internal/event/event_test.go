package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogAppendAndCopy(t *testing.T) {
	var log Log
	log.Append(New(Create, "User", Record{"id": int64(1)}, nil))
	log.Append(New(Delete, "User", Record{"id": int64(1)}, nil), New(Create, "Item", Record{"id": int64(2)}, nil))

	events := log.Events()
	assert.Len(t, events, 3)
	assert.Equal(t, Create, events[0].Type)
	assert.Equal(t, "Item", events[2].RecordName)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	events[0].RecordName = "changed"
	assert.Equal(t, "User", log.Events()[0].RecordName)

	log.Reset()
	assert.Equal(t, 0, log.Len())
}

func TestNilLogIsSafe(t *testing.T) {
	var log *Log
	log.Append(New(Create, "User", nil, nil))
	assert.Nil(t, log.Events())
	assert.Equal(t, 0, log.Len())
}
