package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// PassengerService manages the travellers registered under a user
type PassengerService struct {
	store  PassengerStore
	authz  Authorizer
	logger *logrus.Logger
}

// NewPassengerService creates a passenger service
func NewPassengerService(store PassengerStore, authz Authorizer, logger *logrus.Logger) *PassengerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PassengerService{store: store, authz: authz, logger: logger}
}

// Add registers a passenger for userID. The first passenger becomes the default.
func (s *PassengerService) Add(ctx context.Context, userID string, req models.PassengerCreateRequest) (*models.Passenger, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	name := strings.TrimSpace(req.Name)
	idNumber := strings.ToUpper(strings.TrimSpace(req.IDNumber))
	if name == "" || idNumber == "" {
		return nil, fmt.Errorf("%w: passenger name and id number are required", models.ErrInvalidArgument)
	}

	existing, err := s.store.ListPassengersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &models.Passenger{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		IDNumber:  idNumber,
		Phone:     strings.TrimSpace(req.Phone),
		IsDefault: req.IsDefault || len(existing) == 0,
	}
	if err := s.store.CreatePassenger(ctx, p); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "passenger_id": p.ID}).Info("Passenger added")
	return p, nil
}

// List returns the user's passengers, default first
func (s *PassengerService) List(ctx context.Context, userID string) ([]models.Passenger, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	passengers, err := s.store.ListPassengersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if passengers == nil {
		passengers = []models.Passenger{}
	}
	return passengers, nil
}

// Get returns a passenger the user may book for
func (s *PassengerService) Get(ctx context.Context, userID, passengerID string) (*models.Passenger, error) {
	return s.owned(ctx, userID, passengerID, policy.ActionUsePassenger)
}

func (s *PassengerService) owned(ctx context.Context, userID, passengerID, action string) (*models.Passenger, error) {
	p, err := s.store.GetPassenger(ctx, passengerID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, policy.Request{UserID: userID, Action: action, OwnerID: p.UserID}); err != nil {
		return nil, err
	}
	return p, nil
}

// SetDefault makes a passenger the user's default traveller
func (s *PassengerService) SetDefault(ctx context.Context, userID, passengerID string) (*models.Passenger, error) {
	p, err := s.owned(ctx, userID, passengerID, policy.ActionManagePassenger)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDefaultPassenger(ctx, userID, passengerID); err != nil {
		return nil, err
	}
	p.IsDefault = true
	return p, nil
}

// Delete removes a passenger no ticket refers to
func (s *PassengerService) Delete(ctx context.Context, userID, passengerID string) error {
	if _, err := s.owned(ctx, userID, passengerID, policy.ActionManagePassenger); err != nil {
		return err
	}

	n, err := s.store.CountTicketsByPassenger(ctx, passengerID)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: passenger %s is on %d ticket(s)", models.ErrStateConflict, passengerID, n)
	}

	if err := s.store.DeletePassenger(ctx, passengerID); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "passenger_id": passengerID}).Info("Passenger deleted")
	return nil
}
