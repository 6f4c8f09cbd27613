package model

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

var Environments = []string{string(EnvironmentDevelopment), string(EnvironmentProduction)}

type GameStatus string

const (
	GameStatusActive   GameStatus = "active"
	GameStatusDisabled GameStatus = "disabled"
)

type AIEventType string

const (
	AIEventSuggestion AIEventType = "ai_suggestion"
	AIEventError      AIEventType = "ai_error"
)

type AdminRole string

const (
	AdminRoleAdmin AdminRole = "admin"
)

const NotificationTypeGameDisabled = "game_disabled"
