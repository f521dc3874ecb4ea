package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/fiscal-sync/internal/model"
)

func TestWhereClause(t *testing.T) {
	where, args := whereClause(Filter{}, 1)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = whereClause(Filter{BatchID: "b", RequestStatus: model.BatchExecuted, DocumentID: "u"}, 2)
	assert.Equal(t, " WHERE batch_id = $2 AND request_status = $3 AND document_id = $4", where)
	assert.Equal(t, []interface{}{"b", "executed", "u"}, args)
}
