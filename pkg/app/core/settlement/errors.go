package settlement

import (
	"errors"

	"github.com/uhyunpark/hyperswap/pkg/app/core/nonce"
	"github.com/uhyunpark/hyperswap/pkg/app/core/order"
	"github.com/uhyunpark/hyperswap/pkg/app/core/proxy"
	"github.com/uhyunpark/hyperswap/pkg/app/core/template"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Error kinds a settlement can fail with. Each component raises its own;
// they are re-exported here so callers need a single import.
var (
	ErrInvalidSignature      = crypto.ErrInvalidSignature
	ErrOrderClosed           = nonce.ErrOrderClosed
	ErrOrderExpired          = nonce.ErrOrderExpired
	ErrOrderMismatch         = errors.New("order mismatch")
	ErrTemplateMismatch      = template.ErrTemplateMismatch
	ErrActionExecutionFailed = proxy.ErrActionExecutionFailed
	ErrInvalidOrder          = order.ErrInvalidOrder
)

// Kind names
const (
	KindInvalidSignature      = "InvalidSignature"
	KindOrderClosed           = "OrderClosed"
	KindOrderExpired          = "OrderExpired"
	KindOrderMismatch         = "OrderMismatch"
	KindTemplateMismatch      = "TemplateMismatch"
	KindActionExecutionFailed = "ActionExecutionFailed"
	KindInvalidOrder          = "InvalidOrder"
	KindInternal              = "Internal"
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidSignature, KindInvalidSignature},
	{ErrOrderClosed, KindOrderClosed},
	{ErrOrderExpired, KindOrderExpired},
	{ErrOrderMismatch, KindOrderMismatch},
	{ErrTemplateMismatch, KindTemplateMismatch},
	{ErrActionExecutionFailed, KindActionExecutionFailed},
	{ErrInvalidOrder, KindInvalidOrder},
}

// Kind maps err to its kind name, "" for nil
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return KindInternal
}
