package database

import (
	"context"
	"fmt"

	"github.com/relayline/relayline/internal/database/models"
)

// agentDeviceRepo implements AgentDeviceRepository.
type agentDeviceRepo struct {
	db *DB
}

// NewAgentDeviceRepository creates a new AgentDeviceRepository.
func NewAgentDeviceRepository(db *DB) AgentDeviceRepository {
	return &agentDeviceRepo{db: db}
}

// Register inserts or refreshes a push registration for an agent device.
func (r *agentDeviceRepo) Register(ctx context.Context, dev *models.AgentDevice) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_devices (agent_id, platform, token, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(agent_id, token) DO UPDATE SET
		   platform = excluded.platform,
		   updated_at = datetime('now')`,
		dev.AgentID, dev.Platform, dev.Token,
	)
	if err != nil {
		return fmt.Errorf("registering agent device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	dev.ID = id
	return nil
}

// ListByAgent returns all push registrations for an agent.
func (r *agentDeviceRepo) ListByAgent(ctx context.Context, agentID string) ([]models.AgentDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, agent_id, platform, token, created_at, updated_at
		 FROM agent_devices WHERE agent_id = ? ORDER BY updated_at DESC`, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying agent devices: %w", err)
	}
	defer rows.Close()

	var devices []models.AgentDevice
	for rows.Next() {
		var d models.AgentDevice
		if err := rows.Scan(&d.ID, &d.AgentID, &d.Platform, &d.Token,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteToken removes a registration whose token the push service reported as
// no longer valid.
func (r *agentDeviceRepo) DeleteToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agent_devices WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting agent device token: %w", err)
	}
	return nil
}
