package auth

import (
	"context"
	"errors"

	"github.com/lhdbsbz/citychat/internal/config"
)

var ErrProfileNotFound = errors.New("user profile not found")

type Profile struct {
	UID        string
	TTSEnabled bool
	VoiceID    string
	Role       string
}

// IsAdmin reports whether the profile has the admin role.
func (p Profile) IsAdmin() bool { return p.Role == "admin" }

type ProfileStore interface {
	Profile(ctx context.Context, uid string) (Profile, error)
}

// ConfigProfiles reads profiles from the live config so edits apply on reload.
type ConfigProfiles struct {
	Get func() *config.Config
}

func NewConfigProfiles() *ConfigProfiles {
	return &ConfigProfiles{Get: config.Get}
}

func (s *ConfigProfiles) Profile(_ context.Context, uid string) (Profile, error) {
	pc, ok := s.Get().Profiles[uid]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	role := pc.Role
	if role == "" {
		role = "user"
	}
	return Profile{UID: uid, TTSEnabled: pc.TTSEnabled, VoiceID: pc.VoiceID, Role: role}, nil
}
