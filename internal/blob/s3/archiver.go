package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// Archiver implements domain.SettlementArchiver by serializing a resolved
// pool's settlement report to JSON and uploading it to S3.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates a new Archiver over the given writer.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// settlementReport is the archived JSON document. It carries the full bet
// ledger alongside the resolution so settlement can be audited without the
// primary database.
type settlementReport struct {
	PoolID        int64            `json:"pool_id"`
	Outcome       domain.Outcome   `json:"outcome"`
	ObservedValue *big.Int         `json:"observed_value"`
	ObservedAt    time.Time        `json:"observed_at"`
	TotalAbove    *big.Int         `json:"total_above"`
	TotalBelow    *big.Int         `json:"total_below"`
	Payouts       []domain.Payment `json:"payouts"`
	ResolvedAt    time.Time        `json:"resolved_at"`
	Bets          []reportBet      `json:"bets"`
}

type reportBet struct {
	Account    string    `json:"account"`
	GrossAbove *big.Int  `json:"gross_above"`
	GrossBelow *big.Int  `json:"gross_below"`
	NetAbove   *big.Int  `json:"net_above"`
	NetBelow   *big.Int  `json:"net_below"`
	PlacedAt   time.Time `json:"placed_at"`
}

// ArchiveSettlement uploads the settlement report and returns the object key.
func (a *Archiver) ArchiveSettlement(ctx context.Context, resolved domain.PoolResolved, bets []domain.BetRecord) (string, error) {
	report := settlementReport{
		PoolID:        resolved.PoolID,
		Outcome:       resolved.Outcome,
		ObservedValue: resolved.ObservedValue,
		ObservedAt:    resolved.ObservedAt,
		TotalAbove:    resolved.TotalAbove,
		TotalBelow:    resolved.TotalBelow,
		Payouts:       resolved.Payouts,
		ResolvedAt:    resolved.ResolvedAt,
		Bets:          make([]reportBet, 0, len(bets)),
	}
	for _, b := range bets {
		report.Bets = append(report.Bets, reportBet{
			Account:    b.Account.Hex(),
			GrossAbove: b.GrossAbove,
			GrossBelow: b.GrossBelow,
			NetAbove:   b.NetAbove,
			NetBelow:   b.NetBelow,
			PlacedAt:   b.PlacedAt,
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return "", fmt.Errorf("s3blob: marshal settlement %d: %w", resolved.PoolID, err)
	}

	path := SettlementPath(resolved.PoolID, resolved.ResolvedAt)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload settlement %d: %w", resolved.PoolID, err)
	}
	return path, nil
}

// SettlementPath builds the S3 key for a settlement report, partitioned by
// the resolution's year-month:
//
//	settlements/2026-03/pool-42.json
func SettlementPath(poolID int64, resolvedAt time.Time) string {
	return fmt.Sprintf("settlements/%s/pool-%d.json", resolvedAt.Format("2006-01"), poolID)
}

// Compile-time interface check.
var _ domain.SettlementArchiver = (*Archiver)(nil)
