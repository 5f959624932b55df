package shared

import "fmt"

// NATS Subject patterns
const (
	// Asset subjects
	SubjectAssetsAll  = "waterwatch.assets.>"
	SubjectAssetEvent = "waterwatch.assets.%s.%s" // kind, action

	// Telemetry subjects
	SubjectTelemetryAll    = "waterwatch.telemetry.>"
	SubjectTelemetryDevice = "waterwatch.telemetry.%s" // device_id
	SubjectReadings        = "waterwatch.readings.%s"  // tank_id
	SubjectReadingsAll     = "waterwatch.readings.>"

	// Flow subjects
	SubjectFlowAll      = "waterwatch.flow.>"
	SubjectFlowComputed = "waterwatch.flow.computed"
)

// TopicTelemetry is the MQTT topic filter devices publish on; the last
// level is the device id.
const TopicTelemetry = "waterwatch/telemetry/+"

// Stream names
const (
	StreamAssets    = "WATER_ASSETS"
	StreamTelemetry = "WATER_TELEMETRY"
	StreamFlow      = "WATER_FLOW"
)

// Consumer names
const (
	ConsumerTelemetryProcessor = "telemetry-processor"
	ConsumerAssetProcessor     = "asset-processor"
)

// Asset kinds and actions used in subjects
const (
	KindTank     = "tank"
	KindValve    = "valve"
	KindPipeline = "pipeline"

	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Helper functions to generate subjects
func AssetSubject(kind, action string) string {
	return fmt.Sprintf(SubjectAssetEvent, kind, action)
}

func TelemetryDeviceSubject(deviceID string) string {
	return fmt.Sprintf(SubjectTelemetryDevice, deviceID)
}

func ReadingSubject(tankID string) string {
	return fmt.Sprintf(SubjectReadings, tankID)
}
