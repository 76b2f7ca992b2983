// Package domain models forecast alert data derived from DWD MOSMIX bulletins.
//
// # Data Source
//
// Forecasts originate from the Deutscher Wetterdienst (DWD) MOSMIX_S product,
// published at https://opendata.dwd.de/weather/local_forecasts/ as a KMZ
// bundle: one KML document listing ~5500 station placemarks, a shared UTC
// timestep axis, and per-parameter value arrays aligned to that axis. A new
// bundle supersedes the previous one roughly every hour; stations parsed from
// one bundle are never reused for the next.
//
// # Parameter Conventions
//
// MOSMIX element codes are normalized into a closed mapping at parse time
// (TTT → temperature, FF → wind_speed, RR1c → precipitation, ...). Values use
// SI-adjacent units after normalization:
//
//	temperature, dew_point     °C (converted from Kelvin)
//	wind_speed, wind_gust      m/s
//	precipitation              mm (per hour)
//	pressure_msl               Pa
//	cloud_cover                %
//	visibility                 m
//	sunshine                   s
//
// Unknown element codes are carried through under their raw code so a newer
// bundle schema never breaks parsing; alert rules only ever reference
// normalized names. A `-` in the raw value array is an explicitly missing
// sample, kept distinct from zero so evaluators can tell "no data" from
// "value below threshold".
//
// # Dedup Keys
//
// Alert dedup keys are deterministic SHA-256 hashes of
// location|rule|time-bucket. The time bucket coarsens the triggering
// timestamp to the bulletin validity window, so the same condition detected
// by consecutive scheduled runs collapses to one key. Combined with an atomic
// set-if-absent claim in the shared cache, this gives at-most-one dispatch
// per condition instance across overlapping runs without any in-process
// state. See [AlertEvent.DedupKey].
package domain
