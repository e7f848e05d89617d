package engine

import (
	"fmt"
	"os"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	serverConfig := serverHandler.ServerConfig
	if serverConfig.StorageBackend != "s3" {
		if err := directoryChecks("storage", serverConfig.StorageRoot); err != nil {
			return err
		}
	}
	return directoryChecks("scratch", serverConfig.ScratchPath)
}

// directoryChecks ensures a working directory exists
func directoryChecks(name, path string) error {
	if path == "" {
		return fmt.Errorf("%s path not configured", name)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating directory", "name", name, "path", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				Logger.Error("Failed to create directory", "name", name, "path", path, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking directory", "name", name, "path", path, "error", err)
		return err
	}

	if !info.IsDir() {
		Logger.Error("Path exists but is not a directory", "name", name, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", name, path)
	}

	Logger.Info("Directory exists", "name", name, "path", path)
	return nil
}
