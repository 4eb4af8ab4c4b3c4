package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"rentescrow/core/events"
	"rentescrow/crypto"
	"rentescrow/gateway/middleware"
	"rentescrow/native/bank"
	"rentescrow/native/rentescrow"
	"rentescrow/native/reputation"
)

const testSecret = "test-secret"

type harness struct {
	t        *testing.T
	handler  http.Handler
	registry *rentescrow.Registry
	ledger   *bank.Ledger
	recorder *events.Recorder
	now      uint64
	renter   [20]byte
	landlord [20]byte
	stranger [20]byte
	tokens   map[[20]byte]string
}

func identity(fill byte) [20]byte {
	var id [20]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		now:      1000,
		renter:   identity(0x03),
		landlord: identity(0x02),
		stranger: identity(0x09),
		tokens:   make(map[[20]byte]string),
	}
	h.ledger = bank.NewLedger(identity(0xAA))
	require.NoError(t, h.ledger.Credit(h.renter, uint256.NewInt(10_000)))

	svc := reputation.NewService()
	svc.SetNowFunc(func() int64 { return int64(h.now) })
	h.recorder = events.NewRecorder(16)

	h.registry = rentescrow.NewRegistry()
	h.registry.SetCustody(h.ledger)
	h.registry.SetScoring(svc.Scoring())
	h.registry.SetEmitter(events.Multi{h.recorder, svc})
	h.registry.SetNowFunc(func() uint64 { return h.now })

	auth := middleware.AuthConfig{HMACSecret: testSecret, Issuer: "rentescrow"}
	srv := New(Config{
		Registry:   h.registry,
		Ledger:     h.ledger,
		Reputation: svc,
		Recorder:   h.recorder,
		Auth:       auth,
	})
	h.handler = srv.Handler()
	for _, id := range [][20]byte{h.renter, h.landlord, h.stranger} {
		token, err := middleware.SignToken(auth, id, time.Hour, time.Now())
		require.NoError(t, err)
		h.tokens[id] = token
	}
	return h
}

func (h *harness) do(caller *[20]byte, method, path string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+h.tokens[*caller])
	}
	res := httptest.NewRecorder()
	h.handler.ServeHTTP(res, req)
	return res
}

func (h *harness) create(id uint64, rent string, duration uint64) EscrowResponse {
	h.t.Helper()
	res := h.do(&h.renter, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"id":            id,
		"landlord":      crypto.FormatIdentity(h.landlord),
		"rentAmount":    rent,
		"leaseDuration": duration,
	})
	require.Equal(h.t, http.StatusCreated, res.Code, res.Body.String())
	var out EscrowResponse
	require.NoError(h.t, json.Unmarshal(res.Body.Bytes(), &out))
	return out
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	created := h.create(1, "100", 30)
	require.Equal(t, "unleased", created.Status)
	require.Equal(t, crypto.FormatIdentity(h.renter), created.Renter)

	res := h.do(&h.renter, http.MethodPost, "/v1/escrows/1/rent", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	leased := decode[EscrowResponse](t, res)
	require.True(t, leased.IsLeased)
	require.Equal(t, uint64(1000), leased.LeaseStartTime)
	require.NotNil(t, leased.LeaseEndsAt)
	require.Equal(t, uint64(1030), *leased.LeaseEndsAt)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "100", decode[EscrowResponse](t, res).EscrowBalance)

	h.now = 1029
	res = h.do(&h.landlord, http.MethodPost, "/v1/escrows/1/end", nil)
	require.Equal(t, http.StatusConflict, res.Code)

	h.now = 1030
	res = h.do(&h.landlord, http.MethodPost, "/v1/escrows/1/end", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	settlement := decode[SettlementResponse](t, res)
	require.Equal(t, "100", settlement.Disbursed)

	res = h.do(&h.renter, http.MethodGet, "/v1/escrows/1", nil)
	require.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(&h.landlord, http.MethodGet, "/v1/accounts/"+crypto.FormatIdentity(h.landlord), nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "100", decode[AccountResponse](t, res).Balance)
	require.Equal(t, uint64(9_900), h.ledger.Balance(h.renter).Uint64())
}

func TestCancelBeforeRentOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.create(2, "50", 60)

	res := h.do(&h.landlord, http.MethodPost, "/v1/escrows/2/cancel", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "0", decode[SettlementResponse](t, res).Disbursed)

	res = h.do(&h.landlord, http.MethodPost, "/v1/escrows/2/cancel", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)
	h.create(1, "100", 30)

	res := h.do(nil, http.MethodPost, "/v1/escrows/1/rent", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = h.do(&h.stranger, http.MethodPost, "/v1/escrows/1/rent", nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusConflict, res.Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"id": 1, "landlord": crypto.FormatIdentity(h.landlord), "rentAmount": "1", "leaseDuration": 1,
	})
	require.Equal(t, http.StatusConflict, res.Code)

	require.Equal(t, http.StatusOK, h.do(&h.renter, http.MethodPost, "/v1/escrows/1/rent", nil).Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "99"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "20000"})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Equal(t, uint64(10_000), h.ledger.Balance(h.renter).Uint64())

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "abc"})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/x/rent", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/77/rent", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestScoreRequiresAttestationAndPayment(t *testing.T) {
	h := newHarness(t)
	h.create(1, "100", 30)
	require.Equal(t, http.StatusOK, h.do(&h.renter, http.MethodPost, "/v1/escrows/1/rent", nil).Code)

	res := h.do(&h.renter, http.MethodPost, "/v1/escrows/1/score", map[string]uint64{"input": 7})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	res = h.do(&h.landlord, http.MethodPost, "/v1/attestations", map[string]interface{}{
		"tenant":    crypto.FormatIdentity(h.renter),
		"reference": "lease-1",
		"issuedAt":  900,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	attestation := decode[AttestationResponse](t, res)
	require.Equal(t, crypto.FormatIdentity(h.landlord), attestation.Attester)
	require.True(t, strings.HasPrefix(attestation.ID, "0x"))

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/score", map[string]uint64{"input": 7})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)

	require.Equal(t, http.StatusOK, h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "100"}).Code)

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/score", map[string]uint64{"input": 7})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, uint64(7), decode[ScoreResponse](t, res).Score)

	res = h.do(&h.renter, http.MethodGet, "/v1/escrows/1", nil)
	require.Equal(t, uint64(7), decode[EscrowResponse](t, res).ReliabilityScore)
}

func TestAttestationRejectsSelfAttestation(t *testing.T) {
	h := newHarness(t)
	h.create(1, "100", 30)
	require.Equal(t, http.StatusOK, h.do(&h.renter, http.MethodPost, "/v1/escrows/1/rent", nil).Code)
	require.Equal(t, http.StatusOK, h.do(&h.renter, http.MethodPost, "/v1/escrows/1/payments", map[string]string{"amount": "100"}).Code)

	res := h.do(&h.renter, http.MethodPost, "/v1/attestations", map[string]interface{}{
		"tenant":    crypto.FormatIdentity(h.renter),
		"reference": "lease-1",
		"issuedAt":  900,
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())

	res = h.do(&h.renter, http.MethodPost, "/v1/escrows/1/score", map[string]uint64{"input": 7})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
}

func TestCreateRejectsVaultParty(t *testing.T) {
	h := newHarness(t)
	res := h.do(&h.renter, http.MethodPost, "/v1/escrows", map[string]interface{}{
		"id":            1,
		"landlord":      crypto.FormatIdentity(h.ledger.VaultAddress()),
		"rentAmount":    "100",
		"leaseDuration": 30,
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())

	res = h.do(&h.renter, http.MethodGet, "/v1/escrows/1", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestListEscrowsAndEvents(t *testing.T) {
	h := newHarness(t)
	h.create(3, "10", 5)
	h.create(1, "10", 5)

	res := h.do(&h.renter, http.MethodGet, "/v1/escrows?landlord="+crypto.FormatIdentity(h.landlord), nil)
	require.Equal(t, http.StatusOK, res.Code)
	list := decode[[]EscrowResponse](t, res)
	require.Len(t, list, 2)
	require.Equal(t, uint64(1), list[0].ID)
	require.Equal(t, uint64(3), list[1].ID)

	res = h.do(&h.renter, http.MethodGet, "/v1/escrows?renter="+crypto.FormatIdentity(h.stranger), nil)
	require.Empty(t, decode[[]EscrowResponse](t, res))

	res = h.do(&h.renter, http.MethodGet, "/v1/events?after=1", nil)
	require.Equal(t, http.StatusOK, res.Code)
	entries := decode[[]events.Entry](t, res)
	require.Len(t, entries, 1)
	require.Equal(t, rentescrow.EventTypeCreated, entries[0].Type)
	require.Equal(t, "1", entries[0].Attributes["id"])

	res = h.do(&h.renter, http.MethodGet, "/v1/events?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	h := newHarness(t)
	res := h.do(nil, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, res.Code)

	h.do(nil, http.MethodGet, "/v1/escrows", nil)
	res = h.do(nil, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "rentescrowd_http_requests_total")
}

func TestEventStreamDeliversBacklogAndLiveEvents(t *testing.T) {
	h := newHarness(t)
	h.create(1, "100", 30)

	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+h.tokens[h.renter])
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var first events.Entry
	require.NoError(t, json.Unmarshal(data, &first))
	require.Equal(t, rentescrow.EventTypeCreated, first.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/escrows/1/rent", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+h.tokens[h.renter])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	var second events.Entry
	require.NoError(t, json.Unmarshal(data, &second))
	require.Equal(t, rentescrow.EventTypeLeased, second.Type)
	require.Greater(t, second.Sequence, first.Sequence)
}
