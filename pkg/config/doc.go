// Package config loads service configuration from the environment.
//
// A .env file in the working directory is read once, before the first parse,
// without overriding variables that are already set. Structs are populated
// with github.com/caarlos0/env field tags.
//
//	var app config.App
//	if err := config.Load(&app); err != nil {
//		return err
//	}
package config
