package graph

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/0xredeth/Quittance/pkg/store"
)

// defaultPageSize caps collection queries that do not ask for a page size.
const defaultPageSize = 100

// maxPageSize caps collection queries regardless of what they ask for.
const maxPageSize = 1000

// Querier is the slice of the store the GraphQL layer reads from.
type Querier interface {
	GetApiCallByID(ctx context.Context, id string) (*store.ApiCall, error)
	QueryApiCalls(ctx context.Context, q store.ApiCallQuery) ([]store.ApiCall, int64, error)
	GetApiCallCount(ctx context.Context) (int64, error)
	QueryEvents(ctx context.Context, q store.EventQuery) ([]store.Event, int64, error)
	ListSyncStatuses(ctx context.Context) ([]store.SyncStatus, error)
}

// Resolver answers query fields from the store.
type Resolver struct {
	q Querier
}

func (r *Resolver) apiCall(ctx context.Context, doc *ast.QueryDocument, field *ast.Field, args map[string]interface{}) (interface{}, error) {
	id, _ := args["id"].(string)
	call, err := r.q.GetApiCallByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, nil
	}
	return projectApiCall(doc, field.SelectionSet, call), nil
}

func (r *Resolver) apiCalls(ctx context.Context, doc *ast.QueryDocument, field *ast.Field, args map[string]interface{}) (interface{}, error) {
	query := store.ApiCallQuery{
		OrderBy:  orderColumn(args["orderBy"]),
		OrderDir: orderDirection(args["orderDirection"]),
		Limit:    pageSize(args, "first"),
		Skip:     intArg(args, "skip", 0),
	}

	if where, ok := args["where"].(map[string]interface{}); ok {
		if emitter := stringField(where, "emitter"); emitter != nil {
			// Stored emitters are EIP-55 checksummed; normalize the filter
			// so lowercase input still matches.
			normalized := common.HexToAddress(*emitter).Hex()
			query.Emitter = &normalized
		}
		query.CallID = stringField(where, "callId")

		var err error
		if query.FromBlock, err = bigIntField(where, "blockNumber_gte"); err != nil {
			return nil, err
		}
		if query.ToBlock, err = bigIntField(where, "blockNumber_lte"); err != nil {
			return nil, err
		}
	}

	calls, _, err := r.q.QueryApiCalls(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]interface{}, 0, len(calls))
	for i := range calls {
		out = append(out, projectApiCall(doc, field.SelectionSet, &calls[i]))
	}
	return out, nil
}

func (r *Resolver) apiCallCount(ctx context.Context) (interface{}, error) {
	count, err := r.q.GetApiCallCount(ctx)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(count, 10), nil
}

func (r *Resolver) events(ctx context.Context, doc *ast.QueryDocument, field *ast.Field, args map[string]interface{}) (interface{}, error) {
	query := store.EventQuery{
		ContractName: stringField(args, "contract"),
		EventName:    stringField(args, "eventName"),
		OrderBy:      orderColumn(args["orderBy"]),
		OrderDir:     orderDirection(args["orderDirection"]),
		Limit:        pageSize(args, "first"),
		Skip:         intArg(args, "skip", 0),
	}

	events, _, err := r.q.QueryEvents(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]interface{}, 0, len(events))
	for i := range events {
		out = append(out, projectEvent(doc, field.SelectionSet, &events[i]))
	}
	return out, nil
}

// meta reports the newest checkpointed block, mirroring subgraph _meta.
func (r *Resolver) meta(ctx context.Context, doc *ast.QueryDocument, field *ast.Field) (interface{}, error) {
	statuses, err := r.q.ListSyncStatuses(ctx)
	if err != nil {
		return nil, err
	}

	var newest store.SyncStatus
	for _, s := range statuses {
		if s.LastBlockNumber >= newest.LastBlockNumber {
			newest = s
		}
	}

	out := make(map[string]interface{})
	for _, sub := range collectFields(doc, field.SelectionSet) {
		switch sub.Name {
		case "block":
			block := make(map[string]interface{})
			for _, bf := range collectFields(doc, sub.SelectionSet) {
				switch bf.Name {
				case "number":
					block[fieldAlias(bf)] = strconv.FormatUint(newest.LastBlockNumber, 10)
				case "hash":
					if newest.LastBlockHash == "" {
						block[fieldAlias(bf)] = nil
					} else {
						block[fieldAlias(bf)] = newest.LastBlockHash
					}
				case "__typename":
					block[fieldAlias(bf)] = "_Block_"
				}
			}
			out[fieldAlias(sub)] = block
		case "hasIndexingErrors":
			out[fieldAlias(sub)] = false
		case "__typename":
			out[fieldAlias(sub)] = "_Meta_"
		}
	}
	return out, nil
}

func projectApiCall(doc *ast.QueryDocument, sel ast.SelectionSet, call *store.ApiCall) map[string]interface{} {
	out := make(map[string]interface{})
	for _, field := range collectFields(doc, sel) {
		var v interface{}
		switch field.Name {
		case "id":
			v = call.ID
		case "callId":
			v = call.CallID
		case "requestHash":
			v = call.RequestHash
		case "responseHash":
			v = call.ResponseHash
		case "emitter":
			v = call.Emitter
		case "txHash":
			v = call.TxHash
		case "logIndex":
			v = int(call.LogIndex)
		case "blockNumber":
			v = strconv.FormatUint(call.BlockNumber, 10)
		case "timestamp":
			v = strconv.FormatUint(call.Timestamp, 10)
		case "__typename":
			v = "ApiCall"
		}
		out[fieldAlias(field)] = v
	}
	return out
}

func projectEvent(doc *ast.QueryDocument, sel ast.SelectionSet, ev *store.Event) map[string]interface{} {
	out := make(map[string]interface{})
	for _, field := range collectFields(doc, sel) {
		var v interface{}
		switch field.Name {
		case "id":
			v = strconv.FormatUint(ev.ID, 10)
		case "contractName":
			v = ev.ContractName
		case "contractAddress":
			v = ev.ContractAddr
		case "eventName":
			v = ev.EventName
		case "eventSignature":
			v = ev.EventSig
		case "txHash":
			v = ev.TxHash
		case "logIndex":
			v = int(ev.LogIndex)
		case "blockNumber":
			v = strconv.FormatUint(ev.BlockNumber, 10)
		case "timestamp":
			v = strconv.FormatInt(ev.Timestamp.Unix(), 10)
		case "data":
			v = string(ev.Data)
		case "__typename":
			v = "Event"
		}
		out[fieldAlias(field)] = v
	}
	return out
}

// orderColumn maps schema enum values onto store order columns.
func orderColumn(raw interface{}) string {
	switch raw {
	case "blockNumber":
		return "block_number"
	case "timestamp":
		return "timestamp"
	default:
		return "id"
	}
}

func orderDirection(raw interface{}) string {
	if raw == "desc" {
		return "DESC"
	}
	return "ASC"
}

func pageSize(args map[string]interface{}, name string) int {
	n := intArg(args, name, defaultPageSize)
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func intArg(args map[string]interface{}, name string, def int) int {
	switch v := args[name].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func stringField(m map[string]interface{}, name string) *string {
	if v, ok := m[name].(string); ok {
		return &v
	}
	return nil
}

// bigIntField coerces a BigInt argument, which arrives as a string or an
// integer literal depending on how the client wrote the query.
func bigIntField(m map[string]interface{}, name string) (*uint64, error) {
	raw, ok := m[name]
	if !ok || raw == nil {
		return nil, nil
	}

	var (
		n   uint64
		err error
	)
	switch v := raw.(type) {
	case string:
		n, err = strconv.ParseUint(v, 10, 64)
	case int64:
		if v < 0 {
			return nil, gqlerror.Errorf("%s must not be negative", name)
		}
		n = uint64(v)
	case json.Number:
		n, err = strconv.ParseUint(v.String(), 10, 64)
	default:
		return nil, gqlerror.Errorf("%s: unsupported value type %T", name, raw)
	}
	if err != nil {
		return nil, gqlerror.Errorf("%s: %s", name, err.Error())
	}
	return &n, nil
}

var _ Querier = (*store.Store)(nil)
