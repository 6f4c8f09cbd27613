package model

import "time"

type GameSession struct {
	ID            string     `db:"id" json:"id"`
	GameID        string     `db:"game_id" json:"gameId"`
	ParticipantID string     `db:"participant_id" json:"participantId"`
	StartTime     time.Time  `db:"start_time" json:"startTime"`
	EndTime       *time.Time `db:"end_time" json:"endTime,omitempty"`
	Score         *float64   `db:"score" json:"score,omitempty"`
}

func (s *GameSession) Ended() bool {
	return s.EndTime != nil
}
