// Package domain models New York City motor vehicle collision data as
// published on the city's open-data portal, and the daily forecasts derived
// from it.
//
// # Data Source
//
// Collision data comes from two open-data resources served as JSON arrays of
// flat objects:
//
//	crashes  (dataset h9gi-nx95)  one row per collision, keyed by collision_id
//	person   (dataset f55k-p6yu)  one row per person involved, keyed by
//	                              (collision_id, person_id)
//
// Rows are requested one calendar day at a time with a SoQL filter on
// crash_date and a row limit. The portal publishes with a lag of several weeks,
// so recent days fill in gradually and are re-ingested.
//
// # Source Conventions
//
// Every value arrives as a JSON string, including numbers and booleans:
//
//	"number_of_persons_injured": "2"
//
// Date columns are floating timestamps with fractional seconds:
//
//	"crash_date": "2025-01-05T00:00:00.000"
//
// Columns with no value are omitted from the object rather than sent as null,
// and the set of columns changes over time. Location is also sent as a nested
// object (latitude, longitude, human_address) next to the flat latitude and
// longitude columns.
//
// # Coercion
//
// The warehouse table's live schema is the single contract between the
// source and the warehouse. [Coerce] maps a raw object onto that schema:
// columns absent from the schema are dropped, schema columns absent from the
// object become explicit nulls, and values are converted to the column's
// [FieldType]. A value that cannot be converted drops that one record.
//
// # Counting
//
// A [DailyAggregate] counts distinct collisions from the crashes table and
// people from the person table for the same crash_date. The two counts come
// from different tables and are not ordered relative to each other. Days
// without rows are absent, not zero.
//
// # Forecast Rows
//
// A [ForecastRow] carries a point estimate with an uncertainty interval and
// always satisfies yhat_lower <= yhat <= yhat_upper.
package domain
