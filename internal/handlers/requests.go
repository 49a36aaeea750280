package handlers

import (
	"errors"
	"strings"
)

type NewSaveRequest struct {
	Theme      string         `json:"theme"`
	Background map[string]any `json:"background"`
	Image      bool           `json:"image"`
}

func (r *NewSaveRequest) Validate() error {
	if strings.TrimSpace(r.Theme) == "" {
		return errors.New("Missing required field: theme")
	}
	if r.Background == nil {
		return errors.New("Missing required field: background")
	}
	return nil
}

type ImageRequest struct {
	Image bool `json:"image"`
}

func (r *ImageRequest) Validate() error { return nil }

type NewStoryRequest struct {
	Goal string `json:"goal"`
}

func (r *NewStoryRequest) Validate() error {
	r.Goal = strings.TrimSpace(r.Goal)
	return nil
}

type ActionRequest struct {
	Action string `json:"action"`
	Image  bool   `json:"image"`
}

func (r *ActionRequest) Validate() error {
	if strings.TrimSpace(r.Action) == "" {
		return errors.New("Missing required field: action")
	}
	return nil
}

type SkillRequest struct {
	Skill string `json:"skill"`
}

func (r *SkillRequest) Validate() error {
	if r.Skill == "" {
		return errors.New("Missing required field: skill")
	}
	return nil
}

type ItemRequest struct {
	Item string `json:"item"`
}

func (r *ItemRequest) Validate() error {
	if r.Item == "" {
		return errors.New("Missing required field: item")
	}
	return nil
}
