package rpc

import (
	"errors"
	"net/http"

	"escrowd/core/types"
)

type kvSetParams struct {
	Caller string `json:"caller"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

type kvGetParams struct {
	Owner string `json:"owner"`
	Key   string `json:"key"`
}

type kvGetResult struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

func (s *Server) handleKVSet(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return errors.New(authErr.Message)
	}
	var params kvSetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	caller, err := types.ParseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	if err := s.node.KVSet(caller, []byte(params.Key), []byte(params.Value)); err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, true)
	return nil
}

func (s *Server) handleKVGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	var params kvGetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	owner, err := types.ParseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return err
	}
	value, found, err := s.node.KVGet(owner, []byte(params.Key))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return err
	}
	result := kvGetResult{Found: found}
	if found {
		result.Value = string(value)
	}
	writeResult(w, req.ID, result)
	return nil
}

func (s *Server) handleNodeEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	writeResult(w, req.ID, s.node.Events())
	return nil
}
