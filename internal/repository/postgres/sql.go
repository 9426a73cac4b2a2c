package postgres

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

const deleteAllReadingsSQL = `DELETE FROM displacement`

const deleteDeviceReadingsSQL = `DELETE FROM displacement WHERE device_id = ?`

const deleteModelsSQL = `DELETE FROM ai_models`

// readingColumns defaults a NULL battery the way the column default does
const readingColumns = `id, device_id, timestamp, x, y, z, tilt_x, tilt_y, COALESCE(battery, 100.0) AS battery`

// completeReading excludes legacy rows written without every measurement
const completeReading = `device_id IS NOT NULL AND x IS NOT NULL AND y IS NOT NULL AND z IS NOT NULL AND tilt_x IS NOT NULL AND tilt_y IS NOT NULL`
