package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	s3blob "github.com/alanyoungcy/truthledger/internal/blob/s3"
	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
)

// LedgerEngine is the settlement engine as seen by the HTTP layer.
type LedgerEngine interface {
	Authority() string
	CreateMarket(ctx context.Context, caller, externalID, asset string) (domain.Market, error)
	Lookup(ctx context.Context, externalID string) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	GetStake(ctx context.Context, marketID, participant string) (domain.StakeRecord, error)
	NextStakeNonce(ctx context.Context, marketID, participant string) (uint64, error)
	PlaceSignedStake(ctx context.Context, marketID string, in domain.StakeIntent, proof domain.AuthorityProof) (ledger.StakeResult, error)
	Resolve(ctx context.Context, marketID string, proof domain.AuthorityProof, outcomeIsYes bool) (domain.Market, error)
	Claim(ctx context.Context, marketID, participant string) (domain.Payout, error)
	Snapshot(ctx context.Context, marketID string) (domain.Settlement, error)
	Reconcile(ctx context.Context, marketID string) (ledger.ReconcileReport, error)
}

// ResolutionSigner produces the authority proof for a resolution.
type ResolutionSigner interface {
	SignResolution(marketID string, outcomeIsYes bool) (domain.AuthorityProof, error)
}

// ReportSource returns archived settlement reports.
type ReportSource interface {
	Report(ctx context.Context, marketID string) (s3blob.SettlementReport, error)
}

// LedgerHandler serves markets, stakes, claims and accounts.
type LedgerHandler struct {
	engine   LedgerEngine
	accounts domain.AccountStore
	signer   ResolutionSigner // nil when no authority key is loaded
	reports  ReportSource     // nil when archiving is disabled
	asset    string
	amounts  Amounts
	logger   *slog.Logger
}

// LedgerHandlerConfig collects the optional collaborators of LedgerHandler.
type LedgerHandlerConfig struct {
	Signer  ResolutionSigner
	Reports ReportSource
	Asset   string
	Amounts Amounts
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(engine LedgerEngine, accounts domain.AccountStore, cfg LedgerHandlerConfig, logger *slog.Logger) *LedgerHandler {
	if cfg.Amounts.scale.IsZero() {
		cfg.Amounts = NewAmounts(DefaultAmountDecimals)
	}
	return &LedgerHandler{
		engine:   engine,
		accounts: accounts,
		signer:   cfg.Signer,
		reports:  cfg.Reports,
		asset:    cfg.Asset,
		amounts:  cfg.Amounts,
		logger:   logger.With(slog.String("handler", "ledger")),
	}
}

// ListMarkets returns registered markets, newest first.
// GET /api/markets
func (h *LedgerHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.engine.ListMarkets(r.Context(), parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket looks up one market.
// GET /api/markets/{id}
func (h *LedgerHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Lookup(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetStake returns a participant's stake record.
// GET /api/markets/{id}/stakes/{participant}
func (h *LedgerHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetStake(r.Context(), pathParam(r, "id"), pathParam(r, "participant"))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type stakeIntentRequest struct {
	Participant string      `json:"participant"`
	Amount      json.Number `json:"amount"`
	Side        string      `json:"side"`
}

// intent validates the common stake fields and converts the amount to base
// units.
func (h *LedgerHandler) intent(req stakeIntentRequest) (domain.StakeIntent, error) {
	participant := strings.TrimSpace(req.Participant)
	if participant == "" {
		return domain.StakeIntent{}, domain.Errorf(domain.KindInvalidRequest, "participant is required")
	}
	side, ok := domain.ParseSide(req.Side)
	if !ok {
		return domain.StakeIntent{}, domain.Errorf(domain.KindInvalidRequest, `side must be "YES" or "NO"`)
	}
	amount, err := h.amounts.field(req.Amount)
	if err != nil {
		return domain.StakeIntent{}, err
	}
	return domain.StakeIntent{Participant: participant, Amount: amount, Side: side}, nil
}

// StakeIntent returns the message a participant signs to place a stake,
// filled in with their next nonce.
// POST /api/markets/{id}/stakes/intent
func (h *LedgerHandler) StakeIntent(w http.ResponseWriter, r *http.Request) {
	var req stakeIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	in, err := h.intent(req)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	marketID := pathParam(r, "id")
	in.Nonce, err = h.engine.NextStakeNonce(r.Context(), marketID, in.Participant)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intent":        in,
		"message":       string(domain.StakeMessage(marketID, in)),
		"amountDisplay": h.amounts.Format(in.Amount),
	})
}

type placeStakeRequest struct {
	stakeIntentRequest
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// PlaceStake escrows an amount on one side of a market. The body carries
// the participant's signature over the stake message.
// POST /api/markets/{id}/stakes
func (h *LedgerHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req placeStakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	in, err := h.intent(req.stakeIntentRequest)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	sig := strings.TrimSpace(req.Signature)
	if sig == "" {
		writeLedgerError(w, r, h.logger, domain.Errorf(domain.KindUnauthorized, "stake must be signed by the participant"))
		return
	}
	in.Nonce = req.Nonce

	proof := domain.AuthorityProof{Signer: in.Participant, Signature: sig}
	res, err := h.engine.PlaceSignedStake(r.Context(), pathParam(r, "id"), in, proof)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type claimRequest struct {
	Participant string `json:"participant"`
}

// Claim pays out a winning participant.
// POST /api/markets/{id}/claims
func (h *LedgerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	participant := strings.TrimSpace(req.Participant)
	if participant == "" {
		writeLedgerError(w, r, h.logger, domain.Errorf(domain.KindInvalidRequest, "participant is required"))
		return
	}

	payout, err := h.engine.Claim(r.Context(), pathParam(r, "id"), participant)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payout":        payout,
		"amountDisplay": h.amounts.Format(payout.Amount),
	})
}

// Settlement returns a consistent snapshot of market, vault and stakes.
// GET /api/markets/{id}/settlement
func (h *LedgerHandler) Settlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Snapshot(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Report returns the archived settlement report.
// GET /api/markets/{id}/report
func (h *LedgerHandler) Report(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "settlement archive is not configured")
		return
	}
	rep, err := h.reports.Report(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// GetAccount returns a participant's balance. An account that was never
// funded reports zero.
// GET /api/accounts/{owner}?asset=
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = h.asset
	}

	acct, err := h.accounts.GetAccount(r.Context(), owner, asset)
	if errors.Is(err, domain.ErrNotFound) {
		acct, err = domain.Account{Owner: owner, Asset: asset}, nil
	}
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account":        acct,
		"balanceDisplay": h.amounts.Format(acct.Balance),
	})
}

type createMarketRequest struct {
	ExternalID string `json:"externalId"`
	Asset      string `json:"asset"`
}

// CreateMarket registers a market as the configured authority.
// POST /api/admin/markets
func (h *LedgerHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), h.engine.Authority(), req.ExternalID, req.Asset)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type resolveRequest struct {
	Outcome   string `json:"outcome"`
	Signature string `json:"signature"`
}

// Resolve records a market's outcome. Without a signature in the body the
// server signs with the loaded authority key.
// POST /api/admin/markets/{id}/resolve
func (h *LedgerHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	side, ok := domain.ParseSide(req.Outcome)
	if !ok {
		writeLedgerError(w, r, h.logger, domain.Errorf(domain.KindInvalidRequest, `outcome must be "YES" or "NO"`))
		return
	}
	marketID := pathParam(r, "id")
	yes := side == domain.SideYes

	var proof domain.AuthorityProof
	switch {
	case strings.TrimSpace(req.Signature) != "":
		proof = domain.AuthorityProof{Signer: h.engine.Authority(), Signature: strings.TrimSpace(req.Signature)}
	case h.signer != nil:
		p, err := h.signer.SignResolution(marketID, yes)
		if err != nil {
			writeLedgerError(w, r, h.logger, err)
			return
		}
		proof = p
	default:
		writeLedgerError(w, r, h.logger, domain.Errorf(domain.KindInvalidRequest,
			"signature is required: no authority key is loaded"))
		return
	}

	m, err := h.engine.Resolve(r.Context(), marketID, proof, yes)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type fundRequest struct {
	Amount json.Number `json:"amount"`
	Asset  string      `json:"asset"`
}

// Fund credits a participant account.
// POST /api/admin/accounts/{owner}/fund
func (h *LedgerHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	owner := strings.TrimSpace(pathParam(r, "owner"))
	if owner == "" {
		writeLedgerError(w, r, h.logger, domain.Errorf(domain.KindInvalidRequest, "owner is required"))
		return
	}
	amount, err := h.amounts.field(req.Amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	asset := req.Asset
	if asset == "" {
		asset = h.asset
	}

	acct, err := h.accounts.Fund(r.Context(), owner, asset, amount)
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "account funded",
		slog.String("owner", owner),
		slog.String("asset", asset),
		slog.Uint64("amount", amount),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":        acct,
		"balanceDisplay": h.amounts.Format(acct.Balance),
	})
}

// Reconcile runs the conservation check for one market.
// POST /api/admin/markets/{id}/reconcile
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.Reconcile(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeLedgerError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
