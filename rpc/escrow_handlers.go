package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"escrowd/core/types"
	"escrowd/native/escrow"
)

type escrowCreateParams struct {
	Caller           string   `json:"caller"`
	ManifestURL      string   `json:"manifestUrl"`
	ManifestHash     string   `json:"manifestHash"`
	ReputationOracle string   `json:"reputationOracle"`
	RecordingOracle  string   `json:"recordingOracle"`
	ReputationStake  uint8    `json:"reputationStake"`
	RecordingStake   uint8    `json:"recordingStake"`
	Canceller        string   `json:"canceller,omitempty"`
	ExtraHandlers    []string `json:"extraHandlers,omitempty"`
	Factory          string   `json:"factory,omitempty"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowHandlersParams struct {
	ID       string   `json:"id"`
	Caller   string   `json:"caller"`
	Handlers []string `json:"handlers"`
}

type escrowResultsParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	URL    string `json:"url"`
	Hash   string `json:"hash"`
}

type escrowResultsPointer struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

type escrowBulkPayoutParams struct {
	ID         string                `json:"id"`
	Caller     string                `json:"caller"`
	Recipients []string              `json:"recipients"`
	Amounts    []string              `json:"amounts"`
	Results    *escrowResultsPointer `json:"results,omitempty"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowFactoryParams struct {
	Factory string `json:"factory"`
}

type escrowJSON struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	EndTime          int64  `json:"endTime"`
	ManifestURL      string `json:"manifestUrl"`
	ManifestHash     string `json:"manifestHash"`
	ReputationOracle string `json:"reputationOracle"`
	RecordingOracle  string `json:"recordingOracle"`
	ReputationStake  uint8  `json:"reputationStake"`
	RecordingStake   uint8  `json:"recordingStake"`
	Canceller        string `json:"canceller"`
	Account          string `json:"account"`
	Factory          string `json:"factory,omitempty"`
	Balance          string `json:"balance"`
}

func escrowToJSON(esc *escrow.Escrow, balance *big.Int) *escrowJSON {
	out := &escrowJSON{
		ID:               esc.ID.Hex(),
		Status:           esc.Status.String(),
		EndTime:          esc.EndTime,
		ManifestURL:      string(esc.ManifestURL),
		ManifestHash:     hex.EncodeToString(esc.ManifestHash),
		ReputationOracle: esc.ReputationOracle.Hex(),
		RecordingOracle:  esc.RecordingOracle.Hex(),
		ReputationStake:  esc.ReputationStake,
		RecordingStake:   esc.RecordingStake,
		Canceller:        esc.Canceller.Hex(),
		Account:          esc.Account.Hex(),
		Factory:          esc.Factory,
	}
	if balance != nil {
		out.Balance = balance.String()
	}
	return out
}

func parseHexOrString(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "0x") {
		return hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	}
	return []byte(trimmed), nil
}

func parseAddressList(in []string) ([]types.Address, error) {
	out := make([]types.Address, len(in))
	for i, s := range in {
		addr, err := types.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out[i] = addr
	}
	return out, nil
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	repOracle, err := types.ParseAddress(params.ReputationOracle)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	recOracle, err := types.ParseAddress(params.RecordingOracle)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	manifestHash, err := parseHexOrString(params.ManifestHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	create := escrow.CreateParams{
		ManifestURL:      []byte(params.ManifestURL),
		ManifestHash:     manifestHash,
		ReputationOracle: repOracle,
		RecordingOracle:  recOracle,
		ReputationStake:  params.ReputationStake,
		RecordingStake:   params.RecordingStake,
		Factory:          strings.TrimSpace(params.Factory),
	}
	if strings.TrimSpace(params.Canceller) != "" {
		canceller, err := types.ParseAddress(params.Canceller)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return err
		}
		create.Canceller = canceller
	}
	if len(params.ExtraHandlers) > 0 {
		extras, err := parseAddressList(params.ExtraHandlers)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return err
		}
		create.ExtraHandlers = extras
	}
	esc, err := s.node.EscrowCreate(caller, create)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, escrowToJSON(esc, nil))
	return nil
}

func (s *Server) handleEscrowAddTrustedHandlers(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowHandlersParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, id, err := parseActor(params.Caller, params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	handlers, err := parseAddressList(params.Handlers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.node.EscrowAddTrustedHandlers(caller, id, handlers); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func parseActor(callerStr, idStr string) (types.Address, escrow.EscrowID, error) {
	caller, err := types.ParseAddress(callerStr)
	if err != nil {
		return types.Address{}, escrow.EscrowID{}, err
	}
	id, err := escrow.ParseEscrowID(idStr)
	if err != nil {
		return types.Address{}, escrow.EscrowID{}, err
	}
	return caller, id, nil
}

func (s *Server) handleEscrowAbort(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	return s.handleEscrowTransition(w, r, req, s.node.EscrowAbort)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	return s.handleEscrowTransition(w, r, req, s.node.EscrowCancel)
}

func (s *Server) handleEscrowComplete(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	return s.handleEscrowTransition(w, r, req, s.node.EscrowComplete)
}

func (s *Server) handleEscrowTransition(w http.ResponseWriter, r *http.Request, req *RPCRequest, op func(types.Address, escrow.EscrowID) error) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, id, err := parseActor(params.Caller, params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := op(caller, id); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleEscrowNoteIntermediateResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	return s.handleEscrowResults(w, r, req, s.node.EscrowNoteIntermediateResults)
}

func (s *Server) handleEscrowStoreFinalResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	return s.handleEscrowResults(w, r, req, s.node.EscrowStoreFinalResults)
}

func (s *Server) handleEscrowResults(w http.ResponseWriter, r *http.Request, req *RPCRequest, op func(types.Address, escrow.EscrowID, []byte, []byte) error) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowResultsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, id, err := parseActor(params.Caller, params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	hash, err := parseHexOrString(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := op(caller, id, []byte(params.URL), hash); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleEscrowBulkPayout(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params escrowBulkPayoutParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, id, err := parseActor(params.Caller, params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	recipients, err := parseAddressList(params.Recipients)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	amounts := make([]*big.Int, len(params.Amounts))
	for i, raw := range params.Amounts {
		amount, err := parseNonNegativeBigInt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return err
		}
		amounts[i] = amount
	}
	var results *escrow.ResultInfo
	if params.Results != nil {
		hash, err := parseHexOrString(params.Results.Hash)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return err
		}
		results = &escrow.ResultInfo{
			ResultsURL:  []byte(params.Results.URL),
			ResultsHash: hash,
		}
	}
	if err := s.node.EscrowBulkPayout(caller, id, recipients, amounts, results); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func parseNonNegativeBigInt(raw string) (*big.Int, error) {
	amount := new(big.Int)
	if _, ok := amount.SetString(strings.TrimSpace(raw), 10); !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := escrow.ParseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	balance, err := s.node.TokenBalanceOf(esc.Account)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, escrowToJSON(esc, balance))
	return nil
}

func (s *Server) handleEscrowGetFinalResults(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	id, err := escrow.ParseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	results, err := s.node.EscrowFinalResults(id)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	if results == nil {
		writeResult(w, req.ID, nil)
		return nil
	}
	writeResult(w, req.ID, &escrowResultsPointer{
		URL:  string(results.ResultsURL),
		Hash: "0x" + hex.EncodeToString(results.ResultsHash),
	})
	return nil
}

func (s *Server) handleEscrowListByFactory(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	var params escrowFactoryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	ids, err := s.node.EscrowFactoryList(strings.TrimSpace(params.Factory))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	writeResult(w, req.ID, out)
	return nil
}
