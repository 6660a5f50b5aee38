// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the local offline queue",
	}
	cmd.AddCommand(newQueueStatusCmd(a), newQueueResyncCmd(a))
	return cmd
}

func newQueueStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued events and stored session snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			queued, err := st.Len(ctx)
			if err != nil {
				return err
			}
			sessions, err := st.ListSessions(ctx)
			if err != nil {
				return err
			}

			a.out.Title("Offline queue")
			a.out.KeyValue("store", a.cfg.Store.Path)
			a.out.KeyValue("queued events", queued)
			a.out.KeyValue("session snapshots", len(sessions))
			for _, id := range sessions {
				a.out.Info("  " + id)
			}
			if queued > 0 {
				a.out.Warning(fmt.Sprintf("%d events waiting for delivery to %s", queued, a.cfg.Transport.Endpoint))
			}
			return nil
		},
	}
}

func newQueueResyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Deliver queued events to the collector as one batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			client, err := a.newTransport(st)
			if err != nil {
				return err
			}
			n, err := client.Resync(cmd.Context())
			if err != nil {
				a.out.Error(fmt.Sprintf("resync to %s failed: %v", a.cfg.Transport.Endpoint, err))
				return err
			}
			if n == 0 {
				a.out.Info("offline queue is empty")
				return nil
			}
			a.out.Success(fmt.Sprintf("delivered %d queued events", n))
			return nil
		},
	}
}
