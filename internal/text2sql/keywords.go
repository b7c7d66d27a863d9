package text2sql

import "strings"

// keywords are reserved or contextual words that never name a catalog column.
var keywords = func() map[string]bool {
	words := `
		select from where and or not in is null like ilike glob between exists any all some distinct as on using
		join inner left right full outer cross natural lateral group by having order asc desc nulls first last
		limit offset fetch next rows row only ties union intersect except with recursive materialized window
		over partition range groups preceding following unbounded current filter within case when then else end
		true false unknown interval escape collate similar to at time zone cast array values
		date timestamp timestamptz time integer int int2 int4 int8 bigint smallint numeric decimal real float
		float4 float8 double precision text varchar char character varying boolean bool json jsonb
		year month day hour minute second epoch dow doy week quarter leading trailing both for
		current_date current_time current_timestamp localtime localtimestamp
		into update share nowait skip locked
	`
	set := map[string]bool{}
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}()

func isKeyword(word string) bool {
	return keywords[strings.ToLower(word)]
}
