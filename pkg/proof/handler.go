package proof

import (
	"context"

	"github.com/0xredeth/Quittance/pkg/handler"
)

// EventName is the contract event this package indexes.
const EventName = "ApiCallProved"

// EventID is the registry key for the ApiCallProved handler under the
// canonical contract name. Deployments that register the contract under a
// different name key the handler as "<name>:ApiCallProved" instead.
const EventID = "ApiProofs:" + EventName

// Handler returns the handler.Func that indexes ApiCallProved events. It
// writes through hctx.DB, so inside the engine the upsert joins the block
// transaction and commits or rolls back with it.
func Handler() handler.Func {
	return func(hctx *handler.Context) error {
		ev, err := FromContext(hctx)
		if err != nil {
			return err
		}

		ctx := hctx.DB.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		pipe := NewPipeline(NewGormStore(hctx.DB))
		_, err = pipe.Process(ctx, ev)
		return err
	}
}
