package services

import (
	"context"
	"fmt"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// OrderStore is the read side of orders and their tickets
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error)
}

// OrderService reads orders together with their tickets
type OrderService struct {
	store OrderStore
	authz Authorizer
}

// NewOrderService creates an order service
func NewOrderService(store OrderStore, authz Authorizer) *OrderService {
	return &OrderService{store: store, authz: authz}
}

// GetOrder returns one of the user's orders with its tickets
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.authz, policy.Request{
		UserID: userID, Action: policy.ActionViewOrder, OwnerID: order.UserID,
	}); err != nil {
		return nil, err
	}
	if order.Tickets, err = s.store.ListTicketsByOrder(ctx, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the user's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]models.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", models.ErrInvalidArgument)
	}
	orders, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Tickets, err = s.store.ListTicketsByOrder(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}
