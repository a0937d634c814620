// ABOUTME: Demo data seeding for development databases
// ABOUTME: Creates two teams, a manager, four developers, sprints and starter tasks

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SeedHashCost is the bcrypt cost used for seeded passwords.
var SeedHashCost = bcrypt.DefaultCost

// SeedManagerEmail is the account whose presence marks a seeded database.
const SeedManagerEmail = "manager@example.com"

type seedUser struct {
	name     string
	email    string
	password string
	role     Role
	team     string
	lead     bool
}

var seedUsers = []seedUser{
	{"Manager", SeedManagerEmail, "manager123", RoleManager, "", false},
	{"Developer One", "dev1@example.com", "dev123", RoleDeveloper, "Frontend", true},
	{"Developer Two", "dev2@example.com", "dev123", RoleDeveloper, "Frontend", false},
	{"Developer Three", "dev3@example.com", "dev123", RoleDeveloper, "Backend", true},
	{"Developer Four", "dev4@example.com", "dev123", RoleDeveloper, "Backend", false},
}

// Seed fills an empty database with demo teams, users, sprints and tasks.
// It reports false without changes when the demo manager already exists.
func Seed(ctx context.Context, s Store) (bool, error) {
	if _, err := s.GetUserByEmail(ctx, SeedManagerEmail); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("checking seed state: %w", err)
	}

	now := time.Now().UTC()
	today := now.Format(DateLayout)

	teams := map[string]int64{}
	for _, name := range []string{"Frontend", "Backend"} {
		team := &Team{Name: name}
		if err := s.CreateTeam(ctx, team); err != nil {
			return false, fmt.Errorf("seeding team %s: %w", name, err)
		}
		teams[name] = team.ID

		sprint := &Sprint{
			TeamID:    team.ID,
			Name:      name + " Sprint 1",
			Status:    "active",
			StartDate: today,
			EndDate:   now.AddDate(0, 0, 14).Format(DateLayout),
		}
		if err := s.CreateSprint(ctx, sprint); err != nil {
			return false, fmt.Errorf("seeding sprint for %s: %w", name, err)
		}
	}

	for _, su := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(su.password), SeedHashCost)
		if err != nil {
			return false, fmt.Errorf("hashing password for %s: %w", su.email, err)
		}
		u := &User{
			Name:         su.name,
			Email:        su.email,
			PasswordHash: string(hash),
			Role:         su.role,
			Lead:         su.lead,
		}
		if su.team != "" {
			teamID := teams[su.team]
			u.TeamID = &teamID
		}
		if err := s.CreateUser(ctx, u); err != nil {
			return false, fmt.Errorf("seeding user %s: %w", su.email, err)
		}
		if su.role != RoleDeveloper {
			continue
		}

		estimate := 4.0
		task := &Task{
			Title:          "Onboarding for " + su.name,
			Description:    "Set up the development environment",
			Tag:            TagFeature,
			Status:         StatusBacklog,
			StartDate:      today,
			EstimatedHours: &estimate,
			TeamID:         u.TeamID,
			CreatorID:      u.ID,
			CreatorName:    u.Name,
		}
		if _, err := s.CreateAssignedTask(ctx, task, u.ID); err != nil {
			return false, fmt.Errorf("seeding task for %s: %w", su.email, err)
		}
	}

	return true, nil
}
