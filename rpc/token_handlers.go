package rpc

import (
	"errors"
	"net/http"

	"escrowd/core/types"
)

type tokenTransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type tokenAddressParams struct {
	Address string `json:"address"`
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params tokenTransferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	from, err := types.ParseAddress(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	to, err := types.ParseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	amount, err := parseNonNegativeBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.node.TokenTransfer(from, to, amount); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	var params tokenAddressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	balance, err := s.node.TokenBalanceOf(addr)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, balance.String())
	return nil
}

func (s *Server) handleTokenTotalSupply(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	supply, err := s.node.TokenTotalSupply()
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, supply.String())
	return nil
}
