package domain

// Settings keys as stored upstream, one per category.
const (
	SettingSystemAlerts       = "system_alerts"
	SettingElevatorUpdates    = "elevator_updates"
	SettingMaintenanceUpdates = "maintenance_updates"
	SettingAccountUpdates     = "account_updates"
)

var settingKeys = map[Category]string{
	CategorySystem:      SettingSystemAlerts,
	CategoryElevator:    SettingElevatorUpdates,
	CategoryMaintenance: SettingMaintenanceUpdates,
	CategoryProfile:     SettingAccountUpdates,
}

// SettingKey returns the upstream settings key for a category.
func SettingKey(c Category) string {
	return settingKeys[c]
}

// NotificationSettings holds an owner's per-category opt-in flags, keyed by
// settings key (see SettingKey).
type NotificationSettings struct {
	OwnerID string          `json:"user_id" dynamodbav:"user_id"`
	Enabled map[string]bool `json:"enabled" dynamodbav:"enabled"`
}

// DefaultSettings enables every category except account updates.
func DefaultSettings(ownerID string) NotificationSettings {
	return NotificationSettings{
		OwnerID: ownerID,
		Enabled: map[string]bool{
			SettingSystemAlerts:       true,
			SettingElevatorUpdates:    true,
			SettingMaintenanceUpdates: true,
			SettingAccountUpdates:     false,
		},
	}
}

// IsEnabled reports whether a category is enabled, falling back to the
// default when the key was never set.
func (s NotificationSettings) IsEnabled(c Category) bool {
	key := SettingKey(c)
	if v, ok := s.Enabled[key]; ok {
		return v
	}
	return DefaultSettings(s.OwnerID).Enabled[key]
}
