package models

// All lists the licensing models in dependency order for AutoMigrate.
func All() []any {
	return []any{&License{}, &Device{}, &UsageEvent{}, &Artifact{}}
}
