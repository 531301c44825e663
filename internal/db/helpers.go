// Package db provides GORM-based database operations for roboprep.
package db

import (
	"database/sql"

	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// nullString creates a sql.NullString from a string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringPtr creates a sql.NullString from an optional string.
func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ptrFromNull converts a sql.NullString to an optional string.
func ptrFromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// ToModelPrompt converts a database Prompt to the domain model.
// Tags are attached separately because they live in the join table.
func ToModelPrompt(p *Prompt, tags []string) *models.Prompt {
	return &models.Prompt{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		CategoryID:    ptrFromNull(p.CategoryID),
		PromptText:    p.PromptText,
		IsUserCreated: p.IsUserCreated,
		UsageCount:    p.UsageCount,
		CreatedAt:     p.CreatedAt,
		LastUsed:      ptrFromNull(p.LastUsed),
		LastEdited:    ptrFromNull(p.LastEdited),
		Tags:          tags,
	}
}

// FromModelPrompt converts a domain Prompt to its database representation.
func FromModelPrompt(p *models.Prompt) *Prompt {
	return &Prompt{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		CategoryID:    nullStringPtr(p.CategoryID),
		PromptText:    p.PromptText,
		IsUserCreated: p.IsUserCreated,
		UsageCount:    p.UsageCount,
		CreatedAt:     p.CreatedAt,
		LastUsed:      nullStringPtr(p.LastUsed),
		LastEdited:    nullStringPtr(p.LastEdited),
	}
}

// ToModelCategory converts a database Category to the domain model.
func ToModelCategory(c *Category) *models.Category {
	return &models.Category{
		ID:            c.ID,
		Name:          c.Name,
		IsUserCreated: c.IsUserCreated,
	}
}

// FromModelCategory converts a domain Category to its database representation.
func FromModelCategory(c *models.Category) *Category {
	return &Category{
		ID:            c.ID,
		Name:          c.Name,
		IsUserCreated: c.IsUserCreated,
	}
}

// ToModelResponse converts a database Response to the domain model.
func ToModelResponse(r *Response) *models.Response {
	return &models.Response{
		ID:               r.ID,
		PromptID:         r.PromptID,
		UserID:           ptrFromNull(r.UserID),
		ResponseText:     r.ResponseText,
		ModelUsed:        r.ModelUsed,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		CreatedAt:        r.CreatedAt,
		LastEdited:       ptrFromNull(r.LastEdited),
		VariablesUsed:    []string(r.VariablesUsed),
	}
}

// FromModelResponse converts a domain Response to its database representation.
func FromModelResponse(r *models.Response) *Response {
	return &Response{
		ID:               r.ID,
		PromptID:         r.PromptID,
		UserID:           nullStringPtr(r.UserID),
		ResponseText:     r.ResponseText,
		ModelUsed:        r.ModelUsed,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
		CreatedAt:        r.CreatedAt,
		LastEdited:       nullStringPtr(r.LastEdited),
		VariablesUsed:    models.JSONStringArray(r.VariablesUsed),
	}
}
