package rpc

// Method names understood by the dispatcher.
const (
	MethodLogin              = "login"
	MethodWhoami             = "whoami"
	MethodServerInfo         = "server_info"
	MethodListLabs           = "list_labs"
	MethodInspect            = "inspect"
	MethodUp                 = "up"
	MethodDestroy            = "destroy"
	MethodDown               = "down"
	MethodResume             = "resume"
	MethodImportImage        = "import_image"
	MethodPullContainerImage = "pull_container_image"
	MethodImageScan          = "image_scan"
	MethodListImages         = "list_images"
	MethodCreateUser         = "create_user"
	MethodDeleteUser         = "delete_user"
	MethodListUsers          = "list_users"
	MethodChangePassword     = "change_password"
	MethodLogSubscribe       = "log_subscribe"
	MethodLogUnsubscribe     = "log_unsubscribe"
)

// TokenParams is embedded by every authenticated method's params.
type TokenParams struct {
	Token string `json:"token"`
}

// LoginParams authenticates a user by password.
type LoginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	ExpiresAt string `json:"expires_at"`
}

// WhoamiResponse describes the authenticated caller.
type WhoamiResponse struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// ServerInfoResponse reports daemon identity and subsystem reachability.
type ServerInfoResponse struct {
	Version    string `json:"version"`
	Labs       int    `json:"labs"`
	Users      int    `json:"users"`
	Images     int    `json:"images"`
	StoreOK    bool   `json:"store_ok"`
	LibvirtOK  bool   `json:"libvirt_ok"`
	DockerOK   bool   `json:"docker_ok"`
	ListenAddr string `json:"listen_addr"`
}

// UpParams submits a manifest for bring-up. The manifest is TOML text.
type UpParams struct {
	TokenParams
	Manifest string `json:"manifest"`
}

// LabParams addresses one lab by its 8-hex-digit identifier.
type LabParams struct {
	TokenParams
	LabID string `json:"lab_id"`
}

// ImportImageParams imports a disk image (admin only).
type ImportImageParams struct {
	TokenParams
	Model   string `json:"model"`
	Version string `json:"version"`
	Src     string `json:"src"`
	Latest  bool   `json:"latest"`
}

// PullImageParams pulls a container image (admin only).
type PullImageParams struct {
	TokenParams
	Repo string `json:"repo"`
	Tag  string `json:"tag"`
}

// ContainerPullResponse reports a completed pull.
type ContainerPullResponse struct {
	Repo string `json:"repo"`
	Tag  string `json:"tag"`
}

// CreateUserParams creates an account (admin only).
type CreateUserParams struct {
	TokenParams
	Username string   `json:"username"`
	Password string   `json:"password"`
	IsAdmin  bool     `json:"is_admin"`
	SSHKeys  []string `json:"ssh_keys,omitempty"`
}

// DeleteUserParams removes an account (admin only).
type DeleteUserParams struct {
	TokenParams
	Username string `json:"username"`
}

// ChangePasswordParams updates a password. Non-admins may only change
// their own.
type ChangePasswordParams struct {
	TokenParams
	Username    string `json:"username,omitempty"`
	NewPassword string `json:"new_password"`
}

// UserInfo is one row of a list_users response.
type UserInfo struct {
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at"`
}

// ListUsersResponse enumerates accounts.
type ListUsersResponse struct {
	Users []UserInfo `json:"users"`
}
