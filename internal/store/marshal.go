package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
)

// row is the column form of an entry.
type row struct {
	id     string
	seq    int64
	opID   string
	kind   string
	caller string
	holder string
	amount string
	flag   bool
	at     string
	result string
}

// marshalResult converts a result map to canonical JSON TEXT for storage.
func marshalResult(result map[string]string) (string, error) {
	if result == nil {
		result = map[string]string{}
	}
	data, err := journal.MarshalCanonical(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

// unmarshalResult parses canonical JSON TEXT. An empty object yields nil,
// matching entries built without results.
func unmarshalResult(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return m, nil
}

func toRow(e journal.Entry) (row, error) {
	result, err := marshalResult(e.Result)
	if err != nil {
		return row{}, err
	}
	return row{
		id:     e.ID,
		seq:    e.Seq,
		opID:   e.OpID,
		kind:   string(e.Kind),
		caller: string(e.Caller),
		holder: string(e.Holder),
		amount: strconv.FormatUint(uint64(e.Amount), 10),
		flag:   e.Flag,
		at:     e.At.UTC().Format(time.RFC3339Nano),
		result: result,
	}, nil
}

func fromRow(r row) (journal.Entry, error) {
	amount, err := strconv.ParseUint(r.amount, 10, 64)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("entry seq=%d: amount %q: %w", r.seq, r.amount, err)
	}
	at, err := time.Parse(time.RFC3339Nano, r.at)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("entry seq=%d: at %q: %w", r.seq, r.at, err)
	}
	result, err := unmarshalResult(r.result)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("entry seq=%d: %w", r.seq, err)
	}
	e := journal.Entry{
		Seq:    r.seq,
		ID:     r.id,
		OpID:   r.opID,
		Kind:   journal.Kind(r.kind),
		Caller: account.ID(r.caller),
		Holder: account.ID(r.holder),
		Amount: fixed.Amount(amount),
		Flag:   r.flag,
		At:     at.UTC(),
		Result: result,
	}
	if err := journal.Verify(e); err != nil {
		return journal.Entry{}, err
	}
	return e, nil
}
