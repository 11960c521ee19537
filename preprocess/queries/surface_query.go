/*
Surfaces taking part in the partition of the zone, they contribute their
boundary lines.

Zone columns:        the_geom
Sea/land columns:    the_geom, type ('land', 'sea', 'water')
Urban area columns:  the_geom, type
Vegetation columns:  id_veget, the_geom, height_class ('low', 'high')
Water columns:       id_water, the_geom, zindex

Vegetation and water fragments are merged with their touching neighbours
first, the merged surfaces go through BoundaryQuery.
*/

package queries

var SeaLandColumns = []string{"the_geom", "type"}

var UrbanAreaColumns = []string{"the_geom", "type"}

var VegetationColumns = []string{"id_veget", "the_geom", "height_class"}

var WaterColumns = []string{"id_water", "the_geom", "zindex"}

var BoundaryQuery = `
SELECT
	ST_Boundary(ST_MakeValid(the_geom)) AS the_geom
FROM
	%TABLE%
WHERE
	the_geom IS NOT NULL
`

var SeaLandQuery = `
SELECT
	ST_Boundary(ST_MakeValid(the_geom)) AS the_geom
FROM
	%TABLE%
WHERE
	the_geom IS NOT NULL
AND
	type = 'land'
`

var UrbanAreaQuery = `
SELECT
	ST_Boundary(ST_MakeValid(the_geom)) AS the_geom
FROM
	%TABLE%
WHERE
	the_geom IS NOT NULL
AND
	ST_Area(the_geom) > %MIN_AREA%
AND
	COALESCE(type, '') <> 'social_building'
`

// MergedLinesQuery assembles the line soup, %PARTS% is a UNION ALL of the
// queries above.
var MergedLinesQuery = `
CREATE TABLE %OUTPUT% AS
SELECT
	CAST(row_number() OVER () AS INTEGER) AS id,
	ST_Force2D(the_geom) AS the_geom
FROM (
	%PARTS%
) AS parts
WHERE
	the_geom IS NOT NULL
AND
	NOT ST_IsEmpty(the_geom)
`
