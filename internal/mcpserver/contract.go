package mcpserver

// ReportFormatContract describes the high-confidence report and the run
// records returned by the tools, so LLM consumers can read them without
// guessing.
const ReportFormatContract = `# TreeSync Report Format

A run compares a source tree with a destination tree, starting from one
anchor pair and spreading outward through families. Every run has an id;
pass it to the other tools.

## Run

` + "```" + `json
{
  "id": "6f1c...",
  "status": "completed",            // running | completed | failed
  "termination": "completed",       // completed | max_level_reached | cancelled | user_aborted
  "source_file": "trees/family.ged",
  "destination_file": "trees/remote.json",
  "source_anchor": "@I1@",
  "destination_anchor": "P-1001",
  "statistics": { "mapped": 212, "unmatched_source": 14, "levels": 7 }
}
` + "```" + `

## Mapping

One source person linked to one destination person.

- ` + "`" + `match_score` + "`" + ` is 0-100. The anchor always scores 100.
- ` + "`" + `level` + "`" + ` is the number of family hops from the anchor.
- ` + "`" + `found_via` + "`" + ` is how the person was reached: anchor, parent, spouse, child or sibling.
- ` + "`" + `confirmed` + "`" + ` is true when a human accepted the match.

## Report

` + "```" + `json
{
  "summary": { "mapped": 212, "updates": 9, "additions": 5, "skipped_high_issue": 1 },
  "individuals": {
    "nodes_to_update": [ { "source_id": "@I7@", "destination_id": "P-88", "diffs": [ ... ] } ],
    "nodes_to_add":    [ { "source_id": "@I90@", "depth": 1, "primary_relation": { "relation": "child", "source_id": "@I12@", "destination_id": "P-40" } } ]
  }
}
` + "```" + `

- Only mappings with a score at or above the report minimum are included.
- A pair with a high-severity validation issue is never proposed for update.
- ` + "`" + `nodes_to_add` + "`" + ` lists source persons next to a mapped person that have no
  counterpart. Depth-two additions hang off another addition and carry no
  destination id.
- Persons the reviewer skipped are left out of ` + "`" + `nodes_to_add` + "`" + ` and counted
  in ` + "`" + `summary.deferred_additions` + "`" + `.

## Issues

Severity is low, medium or high. Types: gender_mismatch, birth_year_mismatch,
death_year_mismatch, duplicate_mapping, family_inconsistency,
generational_inconsistency, low_match_score, invalid_source_id,
invalid_dest_id. Use ` + "`" + `list_issues` + "`" + ` with ` + "`" + `min_severity` + "`" + ` to filter.
`
