package outbox

const activityRecordedSchema = `{
  "type": "object",
  "title": "ActivityRecorded",
  "properties": {
    "activity_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "session_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "page_path": {"type": "string"},
    "page_title": {"type": "string"},
    "duration_ms": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"},
    "received_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["activity_id", "tenant_id", "user_id", "session_id", "activity_type", "occurred_at", "received_at", "version"],
  "additionalProperties": false
}`
