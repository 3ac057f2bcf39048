package remote

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"travellog/internal/travellog"
)

// txHash derives a transaction reference from the submitted content and a
// per-ledger nonce, formatted like an EVM transaction hash.
func txHash(owner travellog.OwnerKey, rec travellog.Record, nonce uint64) travellog.ExternalRef {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%d", owner, rec.ID, rec.Country, rec.City, rec.Date(), nonce)
	return travellog.ExternalRef("0x" + hex.EncodeToString(h.Sum(nil)))
}
