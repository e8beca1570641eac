// Package config loads the coordinator and instance settings.
//
// Values come from three layers, later ones winning:
//
//	built-in defaults ─▶ YAML file ─▶ SLOTMESH_* environment variables
//
// A .env file may seed the environment first (LoadDotEnv). Durations are Go
// duration strings ("10s") and jackpot amounts are decimals with at most two
// fraction digits. Both control and admin addresses must be loopback.
package config
