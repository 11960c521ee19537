/*
Linear networks taking part in the partition of the zone.

Road columns: the_geom, type, zindex, crossing
Rail columns: the_geom, usage, zindex, crossing

Roads are kept when they lie at grade or when they cross something (bridges,
crossings), minor ways never bound a spatial unit. Rail is kept when it is a
main line, either at grade or on a bridge.
*/

package queries

var RoadColumns = []string{"the_geom", "type", "zindex", "crossing"}

var RailColumns = []string{"the_geom", "usage", "zindex", "crossing"}

var RoadQuery = `
SELECT
	ST_MakeValid(the_geom) AS the_geom
FROM
	%TABLE%
WHERE
	the_geom IS NOT NULL
AND
	(zindex = 0 OR COALESCE(crossing, '') IN ('bridge', 'crossing'))
AND
	COALESCE(type, '') NOT IN ('track', 'service', 'path', 'cycleway', 'steps')
`

var RailQuery = `
SELECT
	ST_MakeValid(the_geom) AS the_geom
FROM
	%TABLE%
WHERE
	the_geom IS NOT NULL
AND
	COALESCE(usage, '') = 'main'
AND
	(zindex = 0 OR COALESCE(crossing, '') = 'bridge')
`
