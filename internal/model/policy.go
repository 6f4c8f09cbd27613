package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type PasswordPolicy struct {
	MinLength        int  `json:"minLength"`
	RequireUppercase bool `json:"requireUppercase"`
	RequireNumber    bool `json:"requireNumber"`
	RequireSymbol    bool `json:"requireSymbol"`
}

type LoginLockoutPolicy struct {
	MaxAttempts    int `json:"maxAttempts"`
	LockoutMinutes int `json:"lockoutMinutes"`
}

type RateLimitPolicy struct {
	GameRequestsPerMinute int `json:"gameRequestsPerMinute"`
	AIRequestsPerMinute   int `json:"aiRequestsPerMinute"`
}

type KeyLifecyclePolicy struct {
	SingleActiveKeyPerEnvironment bool `json:"singleActiveKeyPerEnvironment"`
	MaxKeyAgeDays                 int  `json:"maxKeyAgeDays"`
}

type ConsentPolicy struct {
	RequireConsent     bool `json:"requireConsent"`
	RequireIRBApproval bool `json:"requireIrbApproval"`
}

// PolicySnapshot is the platform-wide security policy as seen by consumers.
// It is a plain value; copies never share state with the cache.
type PolicySnapshot struct {
	Password     PasswordPolicy     `json:"password"`
	LoginLockout LoginLockoutPolicy `json:"loginLockout"`
	RateLimits   RateLimitPolicy    `json:"rateLimits"`
	KeyLifecycle KeyLifecyclePolicy `json:"keyLifecycle"`
	Consent      ConsentPolicy      `json:"consent"`
}

func DefaultPolicy() PolicySnapshot {
	return PolicySnapshot{
		Password: PasswordPolicy{
			MinLength:        12,
			RequireUppercase: true,
			RequireNumber:    true,
			RequireSymbol:    false,
		},
		LoginLockout: LoginLockoutPolicy{
			MaxAttempts:    5,
			LockoutMinutes: 15,
		},
		RateLimits: RateLimitPolicy{
			GameRequestsPerMinute: 600,
			AIRequestsPerMinute:   60,
		},
		KeyLifecycle: KeyLifecyclePolicy{
			SingleActiveKeyPerEnvironment: true,
			MaxKeyAgeDays:                 0,
		},
		Consent: ConsentPolicy{
			RequireConsent:     true,
			RequireIRBApproval: true,
		},
	}
}

// MergePolicy overlays the JSON document raw onto base. Sections and fields
// absent from raw keep the base value.
func MergePolicy(base PolicySnapshot, raw json.RawMessage) (PolicySnapshot, error) {
	if len(raw) == 0 {
		return base, nil
	}
	merged := base
	if err := json.Unmarshal(raw, &merged); err != nil {
		return base, fmt.Errorf("decode policy: %w", err)
	}
	return merged, nil
}

func (p PolicySnapshot) Validate() error {
	if p.Password.MinLength < 1 {
		return fmt.Errorf("password.minLength must be positive")
	}
	if p.LoginLockout.MaxAttempts < 1 {
		return fmt.Errorf("loginLockout.maxAttempts must be positive")
	}
	if p.LoginLockout.LockoutMinutes < 1 {
		return fmt.Errorf("loginLockout.lockoutMinutes must be positive")
	}
	if p.RateLimits.GameRequestsPerMinute < 1 {
		return fmt.Errorf("rateLimits.gameRequestsPerMinute must be positive")
	}
	if p.RateLimits.AIRequestsPerMinute < 1 {
		return fmt.Errorf("rateLimits.aiRequestsPerMinute must be positive")
	}
	if p.KeyLifecycle.MaxKeyAgeDays < 0 {
		return fmt.Errorf("keyLifecycle.maxKeyAgeDays must not be negative")
	}
	return nil
}

type SecurityPolicyRow struct {
	ID        int             `db:"id"`
	Settings  json.RawMessage `db:"settings"`
	UpdatedAt time.Time       `db:"updated_at"`
}
