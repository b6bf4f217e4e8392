// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinel pairs with a tower and delivers device-disconnected
// alerts to it.
//
// Usage:
//
//	sentinel discover
//	sentinel pair --tower-url https://192.168.1.20:8443 --tower-id tower-001 --token $TOKEN
//	sentinel send --device-name "Pixel Watch" --last-seen 1700000000000
//	sentinel exception confirm --connection-type wifi --device-ip 192.168.1.7
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
