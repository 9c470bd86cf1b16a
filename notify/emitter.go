/*
emitter.go - In-store notifications plus webhook fan-out

PURPOSE:
  Implements engine.Notifier. Each engine event becomes an in-store
  notification row for the user and, where configured, a Discord embed
  for the operators. Both are best-effort: an insert or delivery failure
  is logged and dropped.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keyspot/storefront/engine"
	"github.com/keyspot/storefront/ledger"
)

// Emitter writes notification rows and fans out to the webhook.
type Emitter struct {
	store   ledger.Store
	webhook *Webhook
	baseURL string // for product image links in embeds
	log     *zap.Logger
}

// Compile-time check that Emitter implements engine.Notifier
var _ engine.Notifier = (*Emitter)(nil)

// NewEmitter creates an emitter. webhook may be nil.
func NewEmitter(store ledger.Store, webhook *Webhook, baseURL string, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{store: store, webhook: webhook, baseURL: baseURL, log: log}
}

func (e *Emitter) insert(userID, typ, title, message string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	n := ledger.Notification{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    string(payload),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.InsertNotification(ctx, n); err != nil {
		e.log.Warn("notification insert failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// PurchaseCompleted implements engine.Notifier.
func (e *Emitter) PurchaseCompleted(res engine.PurchaseResult) {
	msg := fmt.Sprintf("Purchased %s (%s) x%d for %s.",
		res.ProductName, res.PlanLabel, res.Quantity, formatMinor(res.TotalPrice))
	if res.TierChanged {
		msg += fmt.Sprintf(" Congratulations, you are now %s!", res.Tier)
	}
	e.insert(res.UserID, "success", "Purchase complete", msg, map[string]any{
		"orderId":    res.OrderID,
		"productId":  res.ProductID,
		"plan":       res.PlanLabel,
		"quantity":   res.Quantity,
		"totalPrice": res.TotalPrice,
	})

	if e.webhook == nil {
		return
	}
	name := res.UserName
	if name == "" {
		name = res.UserID
	}
	embed := Embed{
		Title: "Purchase",
		Color: 0xFFD700,
		Fields: []EmbedField{
			{Name: "User", Value: fmt.Sprintf("%s (%s)", name, res.UserID), Inline: true},
			{Name: "Product", Value: fmt.Sprintf("%s | %s", res.ProductName, res.PlanLabel), Inline: true},
			{Name: "Unit price", Value: formatMinor(res.UnitPrice), Inline: true},
			{Name: "Paid", Value: formatMinor(res.TotalPrice), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d", res.Quantity), Inline: true},
		},
	}
	if e.baseURL != "" {
		embed.Image = &EmbedImage{URL: fmt.Sprintf("%s/products/%d.png", e.baseURL, res.ProductID)}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.webhook.Send(ctx, embed)
}

// ChargeRequested implements engine.Notifier.
func (e *Emitter) ChargeRequested(charge ledger.ChargeLog, payerName string) {
	e.insert(charge.UserID, "info", "Charge requested",
		fmt.Sprintf("Top-up of %s requested. Transfer to the account and it will be credited automatically.", formatMinor(charge.Amount)),
		map[string]any{"chargeId": charge.ID, "amount": charge.Amount})
}

// ChargeSettled implements engine.Notifier.
func (e *Emitter) ChargeSettled(charge ledger.ChargeLog, approved bool, source engine.SettleSource) {
	data := map[string]any{"chargeId": charge.ID, "amount": charge.Amount, "source": string(source)}
	switch {
	case approved:
		e.insert(charge.UserID, "success", "Charge complete",
			fmt.Sprintf("%s has been credited to your wallet.", formatMinor(charge.Amount)), data)
	case source == engine.SourceSweep:
		e.insert(charge.UserID, "error", "Charge expired",
			"Your top-up request expired without a matching deposit. Please request again.", data)
	case charge.Status == ledger.ChargeFailed:
		e.insert(charge.UserID, "error", "Charge failed",
			"Deposit confirmation failed. Please contact an administrator.", data)
	default:
		e.insert(charge.UserID, "error", "Charge rejected",
			"Your top-up request was rejected.", data)
	}
}
