/*
bankwatcher.go - Outbound client for the deposit-matching service

PURPOSE:
  On charge creation the storefront tells the bank-watcher what deposit
  to look for: amount, payer name, and the charge ID to report back with.
  The watcher later calls POST /api/charges/callback on our side.

  The call is best-effort. If the watcher is unreachable the charge
  simply stays pending and an admin settles it manually.
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/keyspot/storefront/ledger"
)

// BankWatcherClient pings the external bank-watcher service.
type BankWatcherClient struct {
	baseURL    string
	pushbullet string
	client     *http.Client
	log        *zap.Logger
}

// NewBankWatcherClient creates a client. baseURL may be empty to disable.
func NewBankWatcherClient(baseURL, pushbulletToken string, log *zap.Logger) *BankWatcherClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &BankWatcherClient{
		baseURL:    baseURL,
		pushbullet: pushbulletToken,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// depositRequest is the watcher's expected wire format.
type depositRequest struct {
	Time       int64  `json:"time"`
	Pushbullet string `json:"pushbullet"`
	Amount     int64  `json:"amount"`
	Name       string `json:"name"`
	UserID     string `json:"userId"`
	ChargeID   int64  `json:"chargeLogId"`
}

// NotifyDeposit implements engine.BankWatcher.
func (c *BankWatcherClient) NotifyDeposit(ctx context.Context, charge ledger.ChargeLog, payerName string) {
	if c.baseURL == "" {
		return
	}

	body, err := json.Marshal(depositRequest{
		Time:       time.Now().Unix(),
		Pushbullet: c.pushbullet,
		Amount:     charge.Amount,
		Name:       payerName,
		UserID:     charge.UserID,
		ChargeID:   charge.ID,
	})
	if err != nil {
		c.log.Warn("bank-watcher payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bank", bytes.NewReader(body))
	if err != nil {
		c.log.Warn("bank-watcher request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The charge stays pending; admin settlement covers this path.
		c.log.Warn("bank-watcher unreachable", zap.Int64("charge_id", charge.ID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.log.Warn("bank-watcher rejected deposit notice",
			zap.Int64("charge_id", charge.ID), zap.Int("status", resp.StatusCode))
	}
}
