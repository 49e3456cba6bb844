package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicTransaction exposes the transaction started by nrgin to the
// request context, so service segments attach to it, and tags it with the caller.
func NewRelicTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		c.Request = newrelic.RequestWithTransactionContext(c.Request, txn)
		if caller := Caller(c); caller != "" {
			txn.AddAttribute("caller", caller)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}
