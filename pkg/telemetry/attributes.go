// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by spans and metrics.
const (
	AttrSessionID = attribute.Key("surveytrace.session_id")
	AttrEventType = attribute.Key("surveytrace.event_type")
	AttrOutcome   = attribute.Key("surveytrace.outcome")
	AttrStatus    = attribute.Key("surveytrace.status")
	AttrBatchSize = attribute.Key("surveytrace.batch_size")
	AttrComponent = attribute.Key("surveytrace.component")
)

// Outcome and status values.
const (
	OutcomeDelivered = "delivered"
	OutcomeQueued    = "queued"
	StatusSuccess    = "success"
	StatusFailure    = "failure"
)

func componentAttr(component string) attribute.KeyValue {
	return AttrComponent.String(component)
}
