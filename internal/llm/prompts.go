package llm

const synthesizePrompt = `You are a reflection system for an agent's knowledge graph. Analyze the following interactions and synthesize what was learned.

Determine:
- quality_score: between 0 and 1, how much durable knowledge these interactions carry
- summary: one or two sentences describing the session
- learnings: claims that were reinforced or newly observed, each with a confidence_delta between -0.1 and 0.1 and optional evidence
- corrections: claims the agent held that turned out to be wrong. Include the wrong_claim, the correct_claim, and the question that exposed the mistake when one exists
- insights: higher-order claims that connect existing knowledge, each with the supporting claims listed

Respond ONLY with a JSON object. No markdown, no explanation. Example:
{"quality_score":0.7,"summary":"...","learnings":[{"claim":"user prefers tabs","confidence_delta":0.03,"evidence":"stated twice"}],"corrections":[{"wrong_claim":"capital of Australia is Sydney","correct_claim":"capital of Australia is Canberra","question":"what is the capital of Australia"}],"insights":[{"claim":"user works on infrastructure","supporting_node_ids":[]}]}

If nothing was learned, respond with {"quality_score":0,"summary":"","learnings":[],"corrections":[],"insights":[]}

Interactions:
%s`

const extractPrompt = `You are a knowledge extraction system. Analyze the following exchange and extract distinct knowledge as graph nodes and edges.

Node types: concept, entity, person, technology, fact, preference, skill, mistake, question, topic, file, event.
Relations: is_a, has_property, part_of, relates_to, depends_on, causes, used_in, similar_to, contradicts, supports, corrects, preferred_by, knows, dislikes, extracted_from, inferred_from, mentioned_in.

For each node give a short label and an optional confidence between 0 and 1. For each edge reference nodes by label.

Respond ONLY with a JSON object. No markdown, no explanation. Example:
{"nodes":[{"type":"technology","label":"PostgreSQL","confidence":0.8}],"edges":[{"source_label":"PostgreSQL","target_label":"databases","relation":"is_a"}]}

If nothing can be extracted, respond with {"nodes":[],"edges":[]}

Exchange:
User: %s
Agent: %s`
