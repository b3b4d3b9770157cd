package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sherpa-network/sherpa/pkg/auth"
	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/lab"
	"github.com/sherpa-network/sherpa/pkg/rpc"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/topo"
	"github.com/sherpa-network/sherpa/pkg/util"
	"github.com/sherpa-network/sherpa/pkg/version"
)

// ============================================================
// Sessions
// ============================================================

func (s *Server) handleLogin(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p rpc.LoginParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}

	user, err := s.deps.DB.GetUserByName(ctx, p.Username)
	if err != nil {
		// Indistinguishable from a wrong password on purpose.
		return nil, rpc.NewError(rpc.CodeAuthInvalid, "invalid credentials")
	}
	if err := auth.VerifyPassword(p.Password, user.PasswordHash); err != nil {
		return nil, rpc.NewError(rpc.CodeAuthInvalid, "invalid credentials")
	}

	token, exp, err := s.deps.Issuer.Issue(user.Username, user.IsAdmin, p.Remember)
	if err != nil {
		return nil, err
	}
	util.WithField("user", user.Username).Info("login")
	return &rpc.LoginResponse{
		Token:     token,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleServerInfo(ctx context.Context) (interface{}, error) {
	info := &rpc.ServerInfoResponse{
		Version:    version.Version,
		ListenAddr: s.deps.Cfg.Listen,
	}

	if labs, err := s.deps.DB.ListLabs(ctx); err == nil {
		info.Labs = len(labs)
		info.StoreOK = true
	}
	if users, err := s.deps.DB.ListUsers(ctx); err == nil {
		info.Users = len(users)
	}
	if imgs, err := s.deps.DB.ListNodeImages(ctx); err == nil {
		info.Images = len(imgs)
	}
	if s.deps.LibvirtPing != nil && s.deps.LibvirtPing() == nil {
		info.LibvirtOK = true
	}
	if s.deps.Docker != nil && s.deps.Docker.Ping(ctx) == nil {
		info.DockerOK = true
	}
	return info, nil
}

// ============================================================
// Labs
// ============================================================

func (s *Server) handleListLabs(ctx context.Context, caller *auth.AuthContext) (interface{}, error) {
	labs, err := s.deps.Engine.List(ctx, caller.Username, caller.IsAdmin)
	if err != nil {
		return nil, err
	}
	return &rpc.ListLabsResponse{Labs: labs}, nil
}

func (s *Server) handleInspect(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (string, interface{}, error) {
	var p rpc.LabParams
	if err := decode(params, &p); err != nil {
		return "", nil, err
	}
	if err := s.authorizeLab(ctx, caller, p.LabID); err != nil {
		return p.LabID, nil, err
	}
	detail, err := s.deps.Engine.Inspect(ctx, p.LabID)
	return p.LabID, detail, err
}

// handleUp compiles enough of the manifest to learn the lab ID, takes the
// per-lab lock, and streams phase progress ahead of the response.
func (s *Server) handleUp(ctx context.Context, c *conn, caller *auth.AuthContext, params json.RawMessage, reqID string) (string, interface{}, error) {
	var p rpc.UpParams
	if err := decode(params, &p); err != nil {
		return "", nil, err
	}

	m, err := topo.ParseManifest([]byte(p.Manifest))
	if err != nil {
		return "", nil, err
	}
	if m.Name == "" {
		return "", nil, fmt.Errorf("manifest has no name: %w", util.ErrValidationFailed)
	}
	labID := ident.LabID(caller.Username, m.Name)

	owner, err := s.deps.DB.GetUserByName(ctx, caller.Username)
	if err != nil {
		return labID, nil, err
	}

	release := s.locks.acquire(labID, func() {
		_ = c.send(rpc.NewStatus(rpc.StatusWaiting,
			fmt.Sprintf("another operation holds lab %s, waiting", labID)))
	})
	defer release()

	send := lab.ProgressFunc(func(p lab.Progress) error {
		frame := rpc.NewStatus(rpc.StatusProgress, p.Message)
		frame.Phase = p.Phase
		frame.Progress = &rpc.Progress{
			CurrentPhase: p.Phase,
			PhaseNumber:  p.PhaseNumber,
			TotalPhases:  p.TotalPhases,
		}
		return c.send(frame)
	})

	// Partial failures still return the summary; its ledger carries the
	// per-phase errors and the client keys off the success flag.
	summary, err := s.deps.Engine.Up(ctx, p.Manifest, owner, send)
	if err != nil {
		return labID, nil, err
	}
	_ = c.send(rpc.NewStatus(rpc.StatusDone, fmt.Sprintf("lab %s finished", labID)))
	return labID, summary, nil
}

func (s *Server) handleDestroy(ctx context.Context, c *conn, caller *auth.AuthContext, params json.RawMessage) (string, interface{}, error) {
	var p rpc.LabParams
	if err := decode(params, &p); err != nil {
		return "", nil, err
	}
	if err := s.authorizeLab(ctx, caller, p.LabID); err != nil {
		return p.LabID, nil, err
	}

	release := s.locks.acquire(p.LabID, func() {
		_ = c.send(rpc.NewStatus(rpc.StatusWaiting,
			fmt.Sprintf("another operation holds lab %s, waiting", p.LabID)))
	})
	defer release()

	summary, err := s.deps.Engine.Destroy(ctx, p.LabID)
	return p.LabID, summary, err
}

func (s *Server) handleVmAction(ctx context.Context, caller *auth.AuthContext, params json.RawMessage, action string) (string, interface{}, error) {
	var p rpc.LabParams
	if err := decode(params, &p); err != nil {
		return "", nil, err
	}
	if err := s.authorizeLab(ctx, caller, p.LabID); err != nil {
		return p.LabID, nil, err
	}

	var results []lab.VmActionResult
	var err error
	if action == "suspend" {
		results, err = s.deps.Engine.Suspend(ctx, p.LabID)
	} else {
		results, err = s.deps.Engine.Resume(ctx, p.LabID)
	}
	if err != nil {
		return p.LabID, nil, err
	}
	return p.LabID, &rpc.LabVmActionResponse{LabID: p.LabID, Action: action, Results: results}, nil
}

// ============================================================
// Images
// ============================================================

func (s *Server) handleImportImage(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	var p rpc.ImportImageParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	return s.deps.Images.Import(ctx, p.Model, p.Version, p.Src, p.Latest)
}

func (s *Server) handlePullImage(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	var p rpc.PullImageParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Tag == "" {
		p.Tag = "latest"
	}
	if err := s.deps.Docker.ImagePull(ctx, p.Repo, p.Tag); err != nil {
		return nil, err
	}
	// Known catalog repos get their image row; ad-hoc repos are usable but
	// unmodeled.
	if _, err := s.deps.Images.RegisterContainer(ctx, p.Repo, p.Tag); err != nil &&
		!errors.Is(err, util.ErrNotFound) {
		return nil, err
	}
	return &rpc.ContainerPullResponse{Repo: p.Repo, Tag: p.Tag}, nil
}

func (s *Server) handleImageScan(ctx context.Context, caller *auth.AuthContext) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	results, err := s.deps.Images.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &rpc.ImageScanResponse{Results: results}, nil
}

func (s *Server) handleListImages(ctx context.Context) (interface{}, error) {
	rows, err := s.deps.DB.ListNodeImages(ctx)
	if err != nil {
		return nil, err
	}
	resp := &rpc.ListImagesResponse{Images: make([]rpc.ImageInfo, 0, len(rows))}
	for _, img := range rows {
		resp.Images = append(resp.Images, rpc.ImageInfo{
			Model:     img.Model,
			Kind:      string(img.Kind),
			Version:   img.Version,
			Default:   img.Default,
			CreatedAt: img.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

// ============================================================
// Accounts
// ============================================================

func (s *Server) handleCreateUser(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	var p rpc.CreateUserParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, err
	}
	user, err := s.deps.DB.CreateUser(ctx, &store.User{
		Username:     p.Username,
		PasswordHash: hash,
		IsAdmin:      p.IsAdmin,
		SSHKeys:      p.SSHKeys,
	})
	if err != nil {
		return nil, err
	}
	util.WithField("user", user.Username).Info("user created")
	return &rpc.UserInfo{
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleDeleteUser(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	var p rpc.DeleteUserParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	if p.Username == caller.Username {
		return nil, fmt.Errorf("cannot delete the account you are logged in as: %w",
			util.ErrValidationFailed)
	}
	if err := s.deps.DB.DeleteUser(ctx, p.Username); err != nil {
		return nil, err
	}
	util.WithField("user", p.Username).Info("user deleted")
	return &rpc.OKResponse{OK: true}, nil
}

func (s *Server) handleListUsers(ctx context.Context, caller *auth.AuthContext) (interface{}, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	users, err := s.deps.DB.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	resp := &rpc.ListUsersResponse{Users: make([]rpc.UserInfo, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, rpc.UserInfo{
			Username:  u.Username,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}

func (s *Server) handleChangePassword(ctx context.Context, caller *auth.AuthContext, params json.RawMessage) (interface{}, error) {
	var p rpc.ChangePasswordParams
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	target := p.Username
	if target == "" {
		target = caller.Username
	}
	if target != caller.Username {
		if err := requireAdmin(caller); err != nil {
			return nil, err
		}
	}

	user, err := s.deps.DB.GetUserByName(ctx, target)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(p.NewPassword)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	if _, err := s.deps.DB.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	util.WithField("user", target).Info("password changed")
	return &rpc.OKResponse{OK: true}, nil
}

// ============================================================
// Log streaming
// ============================================================

func (s *Server) handleLogSubscribe(c *conn) (interface{}, error) {
	// Replay first so the subscriber has recent context, then flip the
	// flag for live frames.
	for _, frame := range s.logs.replay() {
		_ = c.send(frame)
	}
	c.setSubscribed(true)
	return &rpc.OKResponse{OK: true}, nil
}
