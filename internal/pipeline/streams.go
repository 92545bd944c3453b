package pipeline

import (
	"strings"

	"github.com/zeebo/errs"

	"skylark-data/internal/domain"
)

// Canonical data stream names. These appear in chunk paths, registry
// rows and the download API, so the set is closed.
const (
	Accelerometer  = "accelerometer"
	AmbientAudio   = "ambient_audio"
	AudioRecording = "audio_recordings"
	AppLog         = "app_log"
	Bluetooth      = "bluetooth"
	CallLog        = "calls"
	DeviceMotion   = "devicemotion"
	GPS            = "gps"
	Gyro           = "gyro"
	Identifiers    = "identifiers"
	IOSLog         = "ios_log"
	Magnetometer   = "magnetometer"
	PowerState     = "power_state"
	Proximity      = "proximity"
	Reachability   = "reachability"
	SurveyAnswers  = "survey_answers"
	SurveyTimings  = "survey_timings"
	TextsLog       = "texts"
	Wifi           = "wifi"
)

// AllDataStreams is the closed set, in display order.
var AllDataStreams = []string{
	Accelerometer, AudioRecording, AmbientAudio, AppLog, Bluetooth,
	CallLog, DeviceMotion, GPS, Gyro, Identifiers, IOSLog, Magnetometer,
	PowerState, Proximity, Reachability, SurveyAnswers, SurveyTimings,
	TextsLog, Wifi,
}

// IsDataStream reports membership in the closed set.
func IsDataStream(name string) bool {
	_, ok := allDataStreamsSet[name]
	return ok
}

var allDataStreamsSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(AllDataStreams))
	for _, s := range AllDataStreams {
		set[s] = struct{}{}
	}
	return set
}()

// uploadNameMapping maps the short names devices use in upload paths to
// canonical stream names.
var uploadNameMapping = map[string]string{
	"accel":          Accelerometer,
	"voiceRecording": AudioRecording,
	"bluetoothLog":   Bluetooth,
	"callLog":        CallLog,
	"devicemotion":   DeviceMotion,
	"gps":            GPS,
	"gyro":           Gyro,
	"logFile":        AppLog,
	"magnetometer":   Magnetometer,
	"powerState":     PowerState,
	"reachability":   Reachability,
	"surveyAnswers":  SurveyAnswers,
	"surveyTimings":  SurveyTimings,
	"textsLog":       TextsLog,
	"wifiLog":        Wifi,
	"proximity":      Proximity,
	"ios_log":        IOSLog,
	"ambientAudio":   AmbientAudio,
	"identifiers":    Identifiers,
}

// chunkableStreams hold timestamped csv rows that merge into hour bins.
// Everything else registers as a single unchunked artifact.
var chunkableStreams = map[string]struct{}{
	Accelerometer: {}, Bluetooth: {}, CallLog: {}, GPS: {},
	Identifiers: {}, AppLog: {}, PowerState: {}, SurveyTimings: {},
	TextsLog: {}, Wifi: {}, Proximity: {}, Gyro: {}, Magnetometer: {},
	DeviceMotion: {}, Reachability: {}, IOSLog: {},
}

// Chunkable reports whether the stream merges into hour bins.
func Chunkable(stream string) bool {
	_, ok := chunkableStreams[stream]
	return ok
}

// surveyDataStreams carry a survey object id in their upload path.
var surveyDataStreams = map[string]struct{}{
	SurveyAnswers: {}, SurveyTimings: {},
}

func IsSurveyStream(stream string) bool {
	_, ok := surveyDataStreams[stream]
	return ok
}

// UnknownStream is returned when an upload path names no known stream.
var UnknownStream = errs.Class("unknown data stream")

// NormalizeUploadPath strips the suffix appended to duplicate uploads.
// Duplicates are named <path>-duplicate-<random>.
func NormalizeUploadPath(path string) string {
	if i := strings.Index(path, "-duplicate"); i >= 0 {
		return path[:i]
	}
	return path
}

// StreamFromPath resolves the canonical data stream an upload path
// belongs to. Old identifiers uploads used an underscore where a slash
// belongs, and old ios log files used a nested "ios/log" folder, so
// both get substring fallbacks.
func StreamFromPath(path string) (string, error) {
	path = NormalizeUploadPath(path)
	for _, piece := range strings.Split(path, "/") {
		if stream, ok := uploadNameMapping[piece]; ok {
			if strings.Contains(stream, "identifiers") {
				return Identifiers, nil
			}
			return stream, nil
		}
	}
	if strings.Contains(path, "identifiers") {
		return Identifiers, nil
	}
	if strings.Contains(path, "ios/log") {
		return IOSLog, nil
	}
	return "", UnknownStream.New("%s", path)
}

// SurveyIDFromPath extracts the survey object id that survey data
// uploads carry as their second-to-last path segment.
func SurveyIDFromPath(path string) string {
	path = NormalizeUploadPath(path)
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

const identifiersHeader = "patient_id,MAC,phone_number,device_id,device_os,os_version,product,brand,hardware_id,manufacturer,model,app_version"

// canonicalHeaders is the reference header per (stream, os type). The
// merge step always prefers these over whatever arrived on the wire.
var canonicalHeaders = map[string]map[string]string{
	Accelerometer: {
		domain.AndroidAPI: "timestamp,UTC time,accuracy,x,y,z",
		domain.IOSAPI:     "timestamp,UTC time,accuracy,x,y,z",
	},
	AppLog: {
		domain.AndroidAPI: "timestamp,UTC time,event",
		domain.IOSAPI:     "timestamp,UTC time,launchId,memory,battery,event,msg,d1,d2,d3,d4",
	},
	Bluetooth: {
		domain.AndroidAPI: "timestamp,UTC time,hashed MAC,RSSI",
		domain.IOSAPI:     "timestamp,UTC time,hashed MAC,RSSI",
	},
	CallLog: {
		domain.AndroidAPI: "timestamp,UTC time,hashed phone number,call type,duration in seconds",
		domain.IOSAPI:     "timestamp,UTC time,hashed phone number,call type,duration in seconds",
	},
	DeviceMotion: {
		domain.AndroidAPI: "timestamp,UTC time,roll,pitch,yaw,rotation_rate_x,rotation_rate_y,rotation_rate_z,gravity_x,gravity_y,gravity_z,user_accel_x,user_accel_y,user_accel_z,magnetic_field_calibration_accuracy,magnetic_field_x,magnetic_field_y,magnetic_field_z",
		domain.IOSAPI:     "timestamp,UTC time,roll,pitch,yaw,rotation_rate_x,rotation_rate_y,rotation_rate_z,gravity_x,gravity_y,gravity_z,user_accel_x,user_accel_y,user_accel_z,magnetic_field_calibration_accuracy,magnetic_field_x,magnetic_field_y,magnetic_field_z",
	},
	GPS: {
		domain.AndroidAPI: "timestamp,UTC time,latitude,longitude,altitude,accuracy",
		domain.IOSAPI:     "timestamp,UTC time,latitude,longitude,altitude,accuracy",
	},
	Gyro: {
		domain.AndroidAPI: "timestamp,UTC time,x,y,z",
		domain.IOSAPI:     "timestamp,UTC time,x,y,z",
	},
	Identifiers: {
		domain.AndroidAPI: "timestamp,UTC time," + identifiersHeader,
		domain.IOSAPI:     "timestamp,UTC time," + identifiersHeader,
	},
	IOSLog: {
		domain.AndroidAPI: "timestamp,UTC time,launchId,memory,battery,event,msg,d1,d2,d3,d4",
		domain.IOSAPI:     "timestamp,UTC time,launchId,memory,battery,event,msg,d1,d2,d3,d4",
	},
	Magnetometer: {
		domain.AndroidAPI: "timestamp,UTC time,x,y,z",
		domain.IOSAPI:     "timestamp,UTC time,x,y,z",
	},
	PowerState: {
		domain.AndroidAPI: "timestamp,UTC time,event",
		domain.IOSAPI:     "timestamp,UTC time,event,level",
	},
	Proximity: {
		domain.AndroidAPI: "timestamp,UTC time,event",
		domain.IOSAPI:     "timestamp,UTC time,event",
	},
	Reachability: {
		domain.AndroidAPI: "timestamp,UTC time,event",
		domain.IOSAPI:     "timestamp,UTC time,event",
	},
	SurveyTimings: {
		domain.AndroidAPI: "timestamp,UTC time,question id,survey id,question type,question text,question answer options,answer",
		domain.IOSAPI:     "timestamp,UTC time,question id,survey id,question type,question text,question answer options,answer,event",
	},
	TextsLog: {
		domain.AndroidAPI: "timestamp,UTC time,hashed phone number,sent vs received,message length,time sent",
		domain.IOSAPI:     "timestamp,UTC time,hashed phone number,sent vs received,message length,time sent",
	},
	Wifi: {
		domain.AndroidAPI: "timestamp,UTC time,hashed MAC,frequency,RSSI",
		domain.IOSAPI:     "timestamp,UTC time,hashed MAC,frequency,RSSI",
	},
}

// CanonicalHeader returns the reference header for a (stream, os type).
// An unknown os type falls back to the android entry, matching how
// never-registered devices are treated elsewhere.
func CanonicalHeader(stream, osType string) ([]byte, bool) {
	byOS, ok := canonicalHeaders[stream]
	if !ok {
		return nil, false
	}
	header, ok := byOS[osType]
	if !ok {
		header = byOS[domain.AndroidAPI]
	}
	return []byte(header), true
}
