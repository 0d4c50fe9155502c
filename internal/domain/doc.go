// Package domain models glacier climate forcing and mass-balance comparison data.
//
// # Datasets
//
// Three gridded monthly climate products drive the comparison:
//
//	CR2MET  regional downscaled product for Chile, 0.05° grid, °C and mm/month.
//	ERA5    global reanalysis, 0.25° grid, 2 m temperature in K and
//	        precipitation as mean daily totals in m.
//	CRU     station-based global product, 0.5° grid, °C and mm/month,
//	        with months missing wherever the station network was too sparse.
//
// # Units
//
// Normalized climate series carry temperature in °C and precipitation in
// mm/month. Mass balance is always mm water equivalent per year (mm w.e./yr).
// Glacier areas are km².
//
// # Reference period
//
// Geodetic observations cover 2000-01-01 to 2020-01-01, i.e. the hydrological
// years 2000 through 2019. Simulated years outside that window are ignored when
// simulated and observed balances are compared.
package domain
