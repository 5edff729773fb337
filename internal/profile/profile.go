// Package profile manages the user's persistent tripsync profile.
// The profile is stored at ~/.config/tripsync/profile.json and is created
// once via the interactive setup flow, then layered over the global config
// on every command.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/tripsync/internal/config"
	"github.com/fakeyudi/tripsync/internal/trip"
)

// Profile holds user-level preferences set during first-run setup.
type Profile struct {
	Name            string `json:"name"`
	APIBaseURL      string `json:"api_base_url"`
	DefaultActivity string `json:"default_activity"`
	TokenPath       string `json:"token_path"`
	StorageBackend  string `json:"storage_backend"`
}

func profilePath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profile.json"), nil
}

// DefaultTokenPath is where setup stores the API token.
func DefaultTokenPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "token"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found, run 'tripsync setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// SaveToken writes the bearer token readable by the owner only.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}

// Config returns the profile as a config layer. Empty fields stay unset.
func (p *Profile) Config() *config.Config {
	if p == nil {
		return nil
	}
	return &config.Config{
		APIBaseURL:      p.APIBaseURL,
		DefaultActivity: p.DefaultActivity,
		TokenPath:       p.TokenPath,
		StorageBackend:  p.StorageBackend,
	}
}

// Setup is the result of the wizard. Token is empty when the user kept the
// existing one.
type Setup struct {
	Profile *Profile
	Token   string
}

// RunSetup runs the interactive setup wizard over in/out.
// If existing is non-nil, it is used as the default for each prompt (edit mode).
func RunSetup(in io.Reader, out io.Writer, existing *Profile) (*Setup, error) {
	r := bufio.NewReader(in)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Fprintf(out, "%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Fprintf(out, "%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil && !(err == io.EOF && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	defaults := config.Defaults()
	prof := &Profile{
		APIBaseURL:      defaults.APIBaseURL,
		DefaultActivity: defaults.DefaultActivity,
		StorageBackend:  defaults.StorageBackend,
	}
	if existing != nil {
		*prof = *existing
	}
	if prof.TokenPath == "" {
		p, err := DefaultTokenPath()
		if err != nil {
			return nil, err
		}
		prof.TokenPath = p
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ┌─────────────────────────────────┐")
	fmt.Fprintln(out, "  │   tripsync — first-time setup   │")
	fmt.Fprintln(out, "  └─────────────────────────────────┘")
	fmt.Fprintln(out)

	var err error
	prof.Name, err = ask("  Your name", prof.Name)
	if err != nil {
		return nil, err
	}

	prof.APIBaseURL, err = ask("  Trip service URL", prof.APIBaseURL)
	if err != nil {
		return nil, err
	}

	activity, err := ask("  Default activity (running/walking/cycling/hiking/other)", prof.DefaultActivity)
	if err != nil {
		return nil, err
	}
	a, err := trip.ParseActivityType(activity)
	if err != nil {
		a = trip.Running
		fmt.Fprintf(out, "  %v, using %q\n", err, a)
	}
	prof.DefaultActivity = string(a)

	backend, err := ask("  Queue storage (file/sqlite/redis)", prof.StorageBackend)
	if err != nil {
		return nil, err
	}
	switch backend {
	case "file", "sqlite", "redis":
		prof.StorageBackend = backend
	default:
		prof.StorageBackend = "file"
	}

	token, err := ask("  API token (blank keeps the current one)", "")
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out)
	return &Setup{Profile: prof, Token: token}, nil
}
