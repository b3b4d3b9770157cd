package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sherpa-network/sherpa/pkg/audit"
	"github.com/sherpa-network/sherpa/pkg/auth"
	"github.com/sherpa-network/sherpa/pkg/rpc"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// mutating marks the methods that leave an audit trail.
var mutating = map[string]bool{
	rpc.MethodUp:                 true,
	rpc.MethodDestroy:            true,
	rpc.MethodDown:               true,
	rpc.MethodResume:             true,
	rpc.MethodImportImage:        true,
	rpc.MethodPullContainerImage: true,
	rpc.MethodImageScan:          true,
	rpc.MethodCreateUser:         true,
	rpc.MethodDeleteUser:         true,
	rpc.MethodChangePassword:     true,
}

// dispatch runs one request to completion and writes its response. Send
// failures are ignored: the handler has already recorded its state.
func (s *Server) dispatch(ctx context.Context, c *conn, req *rpc.Request) {
	start := time.Now()
	log := util.WithMethod(req.Method)

	result, caller, labID, err := s.call(ctx, c, req)

	if mutating[req.Method] {
		user := ""
		if caller != nil {
			user = caller.Username
		}
		ev := audit.NewEvent(user, req.Method).
			WithLab(labID).
			WithConnection(c.id, c.remote).
			WithDuration(time.Since(start))
		if err != nil {
			ev.WithError(err)
		} else {
			ev.WithSuccess()
		}
		if aerr := audit.Log(ev); aerr != nil {
			log.Warnf("audit write failed: %v", aerr)
		}
	}

	if err != nil {
		log.Debugf("request %s failed: %v", req.ID, err)
		_ = c.send(rpc.NewErrorResponse(req.ID, wireError(err)))
		return
	}
	resp, merr := rpc.NewResponse(req.ID, result)
	if merr != nil {
		_ = c.send(rpc.NewErrorResponse(req.ID, rpc.NewError(rpc.CodeInternal, merr.Error())))
		return
	}
	_ = c.send(resp)
}

// call routes a request to its handler. It returns the caller identity
// and target lab (when known) so dispatch can audit the attempt even on
// failure.
func (s *Server) call(ctx context.Context, c *conn, req *rpc.Request) (result interface{}, caller *auth.AuthContext, labID string, err error) {
	if req.Method == rpc.MethodLogin {
		result, err = s.handleLogin(ctx, req.Params)
		return result, nil, "", err
	}

	caller, err = s.authenticate(req.Params, c)
	if err != nil {
		return nil, nil, "", err
	}

	switch req.Method {
	case rpc.MethodWhoami:
		return &rpc.WhoamiResponse{Username: caller.Username, IsAdmin: caller.IsAdmin}, caller, "", nil

	case rpc.MethodServerInfo:
		result, err = s.handleServerInfo(ctx)

	case rpc.MethodListLabs:
		result, err = s.handleListLabs(ctx, caller)

	case rpc.MethodInspect:
		labID, result, err = s.handleInspect(ctx, caller, req.Params)

	case rpc.MethodUp:
		labID, result, err = s.handleUp(ctx, c, caller, req.Params, req.ID)

	case rpc.MethodDestroy:
		labID, result, err = s.handleDestroy(ctx, c, caller, req.Params)

	case rpc.MethodDown:
		labID, result, err = s.handleVmAction(ctx, caller, req.Params, "suspend")

	case rpc.MethodResume:
		labID, result, err = s.handleVmAction(ctx, caller, req.Params, "resume")

	case rpc.MethodImportImage:
		result, err = s.handleImportImage(ctx, caller, req.Params)

	case rpc.MethodPullContainerImage:
		result, err = s.handlePullImage(ctx, caller, req.Params)

	case rpc.MethodImageScan:
		result, err = s.handleImageScan(ctx, caller)

	case rpc.MethodListImages:
		result, err = s.handleListImages(ctx)

	case rpc.MethodCreateUser:
		result, err = s.handleCreateUser(ctx, caller, req.Params)

	case rpc.MethodDeleteUser:
		result, err = s.handleDeleteUser(ctx, caller, req.Params)

	case rpc.MethodListUsers:
		result, err = s.handleListUsers(ctx, caller)

	case rpc.MethodChangePassword:
		result, err = s.handleChangePassword(ctx, caller, req.Params)

	case rpc.MethodLogSubscribe:
		result, err = s.handleLogSubscribe(c)

	case rpc.MethodLogUnsubscribe:
		c.setSubscribed(false)
		result = &rpc.OKResponse{OK: true}

	default:
		err = rpc.NewError(rpc.CodeInternal, fmt.Sprintf("unknown method %q", req.Method))
	}
	return result, caller, labID, err
}

// authenticate validates the token embedded in params, falling back to
// the credential presented at connection upgrade.
func (s *Server) authenticate(params json.RawMessage, c *conn) (*auth.AuthContext, error) {
	var tp rpc.TokenParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &tp); err != nil {
			return nil, rpc.NewError(rpc.CodeAuthInvalid, "malformed params")
		}
	}
	token := tp.Token
	if token == "" {
		token = c.fallbackToken
	}
	if token == "" {
		return nil, rpc.NewError(rpc.CodeAuthRequired, "authentication required")
	}

	ac, err := s.deps.Issuer.Validate(token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, rpc.NewError(rpc.CodeAuthExpired, "session expired, log in again")
	case err != nil:
		return nil, rpc.NewError(rpc.CodeAuthInvalid, "invalid token")
	}
	return ac, nil
}

// authorizeLab resolves a lab's owner and applies the owner-or-admin rule.
func (s *Server) authorizeLab(ctx context.Context, caller *auth.AuthContext, labID string) error {
	owner, err := s.deps.Engine.Owner(ctx, labID)
	if err != nil {
		return err
	}
	return caller.Authorize(owner)
}

func requireAdmin(caller *auth.AuthContext) error {
	if caller.IsAdmin {
		return nil
	}
	return fmt.Errorf("administrator privileges required: %w", util.ErrPermissionDenied)
}

// wireError maps a handler error to the wire taxonomy.
func wireError(err error) *rpc.Error {
	return rpc.FromError(err)
}

func decode(params json.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return rpc.NewError(rpc.CodeManifestInvalid, "missing params")
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return rpc.NewError(rpc.CodeManifestInvalid, "malformed params: "+err.Error())
	}
	return nil
}
