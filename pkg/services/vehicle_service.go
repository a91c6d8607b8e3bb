package services

import (
	"context"
	"fmt"

	"github.com/sovd/cmdexec/ent"
	"github.com/sovd/cmdexec/ent/vehicle"
)

// VehicleService is the read surface over Vehicle rows. Vehicles are
// provisioned out of band (fleet onboarding is out of scope); this service
// only ever reads them.
type VehicleService struct {
	client *ent.Client
}

// NewVehicleService creates a new VehicleService.
func NewVehicleService(client *ent.Client) *VehicleService {
	return &VehicleService{client: client}
}

// GetVehicle retrieves a vehicle by ID, or ErrNotFound.
func (s *VehicleService) GetVehicle(ctx context.Context, vehicleID string) (*ent.Vehicle, error) {
	v, err := s.client.Vehicle.Query().
		Where(vehicle.IDEQ(vehicleID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get vehicle: %w", err)
	}
	return v, nil
}

// IsConnected reports whether v's connection_status permits targeting it
// with a new command.
func IsConnected(v *ent.Vehicle) bool {
	return v.ConnectionStatus == vehicle.ConnectionStatusConnected
}
