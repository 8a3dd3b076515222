package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeJSONL = "application/x-ndjson"

	archiveLockTTL = 2 * time.Minute
)

// SettlementSource is what the archiver reads from the ledger.
type SettlementSource interface {
	Snapshot(ctx context.Context, marketID string) (domain.Settlement, error)
}

// JournalSource lists a market's vault movements.
type JournalSource interface {
	ListJournal(ctx context.Context, marketID string) ([]domain.JournalEntry, error)
}

// SettlementReport is the JSON document written for a resolved market.
type SettlementReport struct {
	Market       domain.Market          `json:"market"`
	Vault        domain.Vault           `json:"vault"`
	Reconcile    ledger.ReconcileReport `json:"reconcile"`
	Participants int                    `json:"participants"`
	JournalPath  string                 `json:"journalPath"`
	StakesPath   string                 `json:"stakesPath"`
	ArchivedAt   time.Time              `json:"archivedAt"`
}

// Archiver writes settlement reports and their JSONL detail to object
// storage. It implements domain.SettlementArchiver.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	ledger  SettlementSource
	journal JournalSource
	locks   domain.LockManager
	audit   domain.AuditStore
	now     func() time.Time
}

// NewArchiver wires the archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	source SettlementSource,
	journal JournalSource,
	locks domain.LockManager,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		ledger:  source,
		journal: journal,
		locks:   locks,
		audit:   audit,
		now:     time.Now,
	}
}

// ReportPath is the object key of a market's settlement report.
func ReportPath(marketID string) string {
	return fmt.Sprintf("settlements/%s/report.json", marketID)
}

func journalPath(marketID string) string {
	return fmt.Sprintf("settlements/%s/journal.jsonl", marketID)
}

func stakesPath(marketID string) string {
	return fmt.Sprintf("settlements/%s/stakes.jsonl", marketID)
}

// ArchiveSettlement uploads the stake records, the vault journal and a
// report for a resolved market, overwriting any earlier archive. It
// returns the report key.
func (a *Archiver) ArchiveSettlement(ctx context.Context, marketID string) (string, error) {
	unlock, err := a.locks.Acquire(ctx, "archive:"+marketID, archiveLockTTL)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}
	defer unlock()

	s, err := a.ledger.Snapshot(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", marketID, err)
	}
	if !s.Market.Resolved {
		return "", fmt.Errorf("s3blob: archive %s: %w", marketID, domain.ErrMarketNotResolved)
	}
	entries, err := a.journal.ListJournal(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s journal: %w", marketID, err)
	}

	stakesBuf, err := marshalJSONL(s.Stakes)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s stakes: %w", marketID, err)
	}
	if err := a.writer.PutMultipart(ctx, stakesPath(marketID), bytes.NewReader(stakesBuf), minPartSize); err != nil {
		return "", err
	}
	journalBuf, err := marshalJSONL(entries)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s journal: %w", marketID, err)
	}
	if err := a.writer.PutMultipart(ctx, journalPath(marketID), bytes.NewReader(journalBuf), minPartSize); err != nil {
		return "", err
	}

	report := SettlementReport{
		Market:       s.Market,
		Vault:        s.Vault,
		Reconcile:    ledger.CheckSettlement(s),
		Participants: len(s.Stakes),
		JournalPath:  journalPath(marketID),
		StakesPath:   stakesPath(marketID),
		ArchivedAt:   a.now().UTC(),
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s report: %w", marketID, err)
	}
	path := ReportPath(marketID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSON); err != nil {
		return "", err
	}

	if err := a.audit.Log(ctx, "archive.settlement", map[string]any{
		"market":       marketID,
		"path":         path,
		"participants": len(s.Stakes),
		"journal":      len(entries),
		"reconciled":   report.Reconcile.OK,
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive %s audit: %w", marketID, err)
	}
	return path, nil
}

// Report fetches a previously archived report.
func (a *Archiver) Report(ctx context.Context, marketID string) (SettlementReport, error) {
	rc, err := a.reader.Get(ctx, ReportPath(marketID))
	if err != nil {
		return SettlementReport{}, err
	}
	defer rc.Close()

	var r SettlementReport
	if err := json.NewDecoder(io.LimitReader(rc, 16<<20)).Decode(&r); err != nil {
		return SettlementReport{}, fmt.Errorf("s3blob: decode report %s: %w", marketID, err)
	}
	return r, nil
}

// Archived lists the market ids that have a report.
func (a *Archiver) Archived(ctx context.Context) ([]string, error) {
	infos, err := a.reader.List(ctx, "settlements/")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, info := range infos {
		rest, ok := strings.CutPrefix(info.Path, "settlements/")
		if !ok {
			continue
		}
		if id, ok := strings.CutSuffix(rest, "/report.json"); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// marshalJSONL encodes one JSON document per line.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var _ domain.SettlementArchiver = (*Archiver)(nil)
