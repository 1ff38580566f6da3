package photos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrNotAuthorized is returned by Upload before the OAuth flow completed.
var ErrNotAuthorized = errors.New("photos: drive not authorized")

// DriveConfig configures the Drive uploader.
type DriveConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from the Google console.
	CredentialsFile string
	// TokenFile stores the user token between runs.
	TokenFile string
	// FolderID is the Drive folder uploads go into. Empty means root.
	FolderID string
	// RedirectURL overrides the redirect in the credentials file.
	RedirectURL string
}

// DriveUploader uploads photos to Google Drive with the drive.file scope.
type DriveUploader struct {
	config    *oauth2.Config
	tokenPath string
	folderID  string

	mu      sync.RWMutex
	token   *oauth2.Token
	service *drive.Service
}

var _ Uploader = (*DriveUploader)(nil)

// NewDriveUploader loads OAuth client credentials and any saved token.
func NewDriveUploader(cfg DriveConfig) (*DriveUploader, error) {
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("photos: read credentials: %w", err)
	}
	oc, err := google.ConfigFromJSON(data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("photos: parse credentials: %w", err)
	}
	if cfg.RedirectURL != "" {
		oc.RedirectURL = cfg.RedirectURL
	}
	if cfg.TokenFile == "" {
		home, _ := os.UserHomeDir()
		cfg.TokenFile = filepath.Join(home, ".spider", "drive_token.json")
	}

	u := &DriveUploader{config: oc, tokenPath: cfg.TokenFile, folderID: cfg.FolderID}
	if err := u.loadToken(); err == nil {
		if err := u.initService(context.Background()); err != nil {
			u.token = nil
		}
	}
	return u, nil
}

// IsAuthorized reports whether a token is loaded.
func (u *DriveUploader) IsAuthorized() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.service != nil
}

// AuthURL returns the consent URL for the OAuth flow.
func (u *DriveUploader) AuthURL() string {
	return u.config.AuthCodeURL("spider-drive", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and saves the token.
func (u *DriveUploader) HandleCallback(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	tok, err := u.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("photos: exchange code: %w", err)
	}
	u.mu.Lock()
	u.token = tok
	u.mu.Unlock()
	if err := u.saveToken(); err != nil {
		return err
	}
	return u.initService(context.Background())
}

// Upload creates a file in the configured folder.
func (u *DriveUploader) Upload(ctx context.Context, p Photo, jpeg []byte) (string, error) {
	u.mu.RLock()
	svc := u.service
	u.mu.RUnlock()
	if svc == nil {
		return "", ErrNotAuthorized
	}
	f := &drive.File{Name: p.Name, MimeType: "image/jpeg"}
	if u.folderID != "" {
		f.Parents = []string{u.folderID}
	}
	created, err := svc.Files.Create(f).Media(bytes.NewReader(jpeg)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("photos: drive upload: %w", err)
	}
	return created.Id, nil
}

func (u *DriveUploader) initService(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.token == nil {
		return errors.New("photos: no token available")
	}
	client := u.config.Client(ctx, u.token)
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return fmt.Errorf("photos: create drive service: %w", err)
	}
	u.service = svc
	return nil
}

func (u *DriveUploader) loadToken() error {
	data, err := os.ReadFile(u.tokenPath)
	if err != nil {
		return err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	u.mu.Lock()
	u.token = &tok
	u.mu.Unlock()
	return nil
}

func (u *DriveUploader) saveToken() error {
	u.mu.RLock()
	tok := u.token
	u.mu.RUnlock()
	if tok == nil {
		return errors.New("photos: no token to save")
	}
	if err := os.MkdirAll(filepath.Dir(u.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(u.tokenPath, data, 0o600)
}
