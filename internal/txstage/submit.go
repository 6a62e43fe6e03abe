package txstage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klingon-exchange/cardaminal/internal/cdmerr"
	"github.com/klingon-exchange/cardaminal/internal/walletdb"
)

// submitTimeout bounds how long Submit waits for the configured relay
// to accept or reject a transaction.
const submitTimeout = 30 * time.Second

// Submit POSTs a Built or Signed transaction's raw CBOR bytes to a
// wallet config's submit API, advancing status to Submitted on any 2xx
// response. Requires tx_cbor to already be populated.
func Submit(ctx context.Context, client *http.Client, store *walletdb.Store, id, url string, headers map[string]string) error {
	row, err := store.FetchByID(id)
	if err != nil {
		return fmt.Errorf("txstage: submit %s: %w", id, err)
	}
	if row.Status != walletdb.StatusBuilt && row.Status != walletdb.StatusSigned {
		return fmt.Errorf("txstage: submit %s: status is %s, want built or signed: %w", id, row.Status, cdmerr.ErrValidation)
	}
	if len(row.TxCBOR) == 0 {
		return fmt.Errorf("txstage: submit %s: no tx_cbor present: %w", id, cdmerr.ErrValidation)
	}

	if client == nil {
		client = &http.Client{Timeout: submitTimeout}
	}
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(row.TxCBOR))
	if err != nil {
		return fmt.Errorf("txstage: submit %s: build request: %w", id, cdmerr.ErrInvalidArgument)
	}
	req.Header.Set("Content-Type", "application/cbor")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("txstage: submit %s: %w: %v", id, cdmerr.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("txstage: submit %s: relay rejected (%d): %s: %w", id, resp.StatusCode, body, cdmerr.ErrValidation)
	}

	row.Status = walletdb.StatusSubmitted
	return store.UpdateTransaction(row)
}
