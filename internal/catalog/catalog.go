package catalog

func rng(min, max float64) (*float64, *float64) {
	return &min, &max
}

func col(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ, Nullable: true}
}

func required(name string, typ ColumnType) Column {
	return Column{Name: name, Type: typ}
}

func ranged(name string, typ ColumnType, min, max float64, desc string) Column {
	c := col(name, typ)
	c.Min, c.Max = rng(min, max)
	c.Description = desc
	return c
}

func described(c Column, desc string) Column {
	c.Description = desc
	return c
}

func cols(typ ColumnType, names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = col(n, typ)
	}
	return out
}

func concat(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func specKey() []Column {
	return []Column{required("product_id", TypeInteger)}
}

func specFK() []ForeignKey {
	return []ForeignKey{{Column: "product_id", RefTable: "products", RefColumn: "product_id", Unique: true}}
}

// Default returns the product catalog: brands, products, one spec table per
// category, user reviews and professional ratings.
func Default() *Registry {
	categories := required("category_name", TypeText)
	categories.Enum = []string{"Monitor", "Mouse", "Keyboard"}
	categories.Description = "selects the spec table: monitor_specs, mouse_specs or keyboard_specs"

	return NewRegistry([]Table{
		{
			Name:       "brands",
			PrimaryKey: "brand_id",
			Columns: []Column{
				required("brand_id", TypeInteger),
				required("brand_name", TypeText),
				col("country_origin", TypeText),
				col("website_url", TypeText),
			},
		},
		{
			Name:        "products",
			Description: "one row per product; rankings are aggregate scores",
			PrimaryKey:  "product_id",
			Columns: []Column{
				required("product_id", TypeInteger),
				required("product_name", TypeText),
				required("brand_id", TypeInteger),
				categories,
				col("release_year", TypeInteger),
				described(col("price", TypeReal), "USD"),
				ranged("customer_rating", TypeReal, 0, 5, "aggregate customer rating"),
				col("product_link", TypeText),
				ranged("ranking_general", TypeReal, 0, 10, ""),
				ranged("ranking_gaming", TypeReal, 0, 10, ""),
				ranged("ranking_office", TypeReal, 0, 10, ""),
				ranged("ranking_editing", TypeReal, 0, 10, ""),
			},
			ForeignKeys: []ForeignKey{{Column: "brand_id", RefTable: "brands", RefColumn: "brand_id"}},
		},
		{
			Name:        "monitor_specs",
			Description: "specs for products with category_name = 'Monitor'",
			PrimaryKey:  "product_id",
			Columns: concat(
				specKey(),
				cols(TypeReal, "size_inch"),
				cols(TypeText, "curve_radius"),
				cols(TypeBoolean, "wall_mount"),
				cols(TypeReal, "borders_size_cm"),
				[]Column{
					ranged("brightness_rating", TypeReal, 0, 10, ""),
					ranged("response_time_rating", TypeReal, 0, 10, ""),
					ranged("hdr_picture_rating", TypeReal, 0, 10, ""),
					ranged("sdr_picture_rating", TypeReal, 0, 10, ""),
					ranged("color_accuracy_rating", TypeReal, 0, 10, ""),
				},
				cols(TypeText, "pixel_type", "subpixel_layout", "backlight"),
				cols(TypeInteger, "color_depth_bit"),
				cols(TypeText, "native_contrast", "contrast_with_local_dimming"),
				cols(TypeBoolean, "local_dimming"),
				cols(TypeReal,
					"sdr_real_scene_cdm2", "sdr_peak_100_window_cdm2", "sdr_sustained_100_window_cdm2",
					"hdr_real_scene_cdm2", "hdr_peak_100_window_cdm2", "hdr_sustained_100_window_cdm2",
					"minimum_brightness_cdm2", "white_balance_de", "black_uniformity_native_std_dev",
					"color_washout_from_left_degrees", "color_washout_from_right_degrees",
					"color_shift_from_left_degrees", "color_shift_from_right_degrees",
					"brightness_loss_from_left_degrees", "brightness_loss_from_right_degrees",
					"black_level_raise_from_left_degrees", "black_level_raise_from_right_degrees",
				),
				cols(TypeInteger, "native_refresh_rate_hz", "max_refresh_rate_hz"),
				cols(TypeText, "native_resolution", "aspect_ratio"),
				cols(TypeBoolean, "flicker_free"),
				cols(TypeInteger, "max_refresh_rate_over_hdmi_hz"),
				cols(TypeText, "displayport", "hdmi", "usbc_ports"),
			),
			ForeignKeys: specFK(),
		},
		{
			Name:        "mouse_specs",
			Description: "specs for products with category_name = 'Mouse'",
			PrimaryKey:  "product_id",
			Columns: concat(
				specKey(),
				cols(TypeText, "coating"),
				cols(TypeReal, "length_mm", "width_mm", "height_mm", "grip_width_mm", "default_weight_gm"),
				cols(TypeText, "weight_distribution"),
				cols(TypeBoolean, "ambidextrous", "left_handed_friendly", "finger_rest"),
				cols(TypeInteger, "total_number_of_buttons", "number_of_side_buttons"),
				cols(TypeBoolean, "profile_switching_button"),
				cols(TypeText, "scroll_wheel_type", "connectivity", "battery_type"),
				cols(TypeInteger, "maximum_of_paired_devices"),
				cols(TypeReal, "cable_length_m"),
				cols(TypeText, "mouse_feet_material", "switch_type", "switch_model"),
				cols(TypeBoolean, "software_windows_compatibility", "software_macos_compatibility"),
			),
			ForeignKeys: specFK(),
		},
		{
			Name:        "keyboard_specs",
			Description: "specs for products with category_name = 'Keyboard'",
			PrimaryKey:  "product_id",
			Columns: concat(
				specKey(),
				cols(TypeText, "size"),
				cols(TypeReal, "height_cm", "width_cm", "depth_cm", "depth_with_wrist_rest_cm", "weight_kg"),
				cols(TypeText, "keycap_material"),
				cols(TypeBoolean, "curved_or_angled", "split_keyboard", "replaceable_cherry_stabilizers"),
				cols(TypeText, "switch_stem_shape"),
				cols(TypeBoolean, "mechanical_switch_compatibility", "magnetic_switch_compatibility",
					"backlighting", "rgb", "per_key_backlighting", "effects"),
				cols(TypeText, "connectivity"),
				cols(TypeBoolean, "detachable"),
				cols(TypeReal, "connector_length_m"),
				cols(TypeText, "connector_keyboard_side"),
				cols(TypeBoolean, "bluetooth", "media_keys", "trackpad_or_trackball", "scroll_wheel",
					"numpad", "windows_key_lock"),
				cols(TypeReal, "key_spacing_mm", "average_loudness_dba", "pre_travel_mm", "total_travel_mm",
					"detection_ratio_percent"),
				cols(TypeText, "switch_type", "switch_feel"),
				cols(TypeBoolean, "software_configuration_profiles", "windows_compatibility",
					"macos_compatibility", "linux_compatibility"),
			),
			ForeignKeys: specFK(),
		},
		{
			Name:        "reviews",
			Description: "user reviews; review_text is embedded for semantic search",
			PrimaryKey:  "review_id",
			Columns: []Column{
				required("review_id", TypeInteger),
				required("product_id", TypeInteger),
				col("user_id", TypeText),
				func() Column {
					c := ranged("rating", TypeInteger, 1, 5, "")
					c.Nullable = false
					return c
				}(),
				col("review_title", TypeText),
				col("review_text", TypeText),
				col("source", TypeText),
				col("verified_purchase", TypeBoolean),
				col("helpful_count", TypeInteger),
				col("review_date", TypeDate),
			},
			ForeignKeys: []ForeignKey{{Column: "product_id", RefTable: "products", RefColumn: "product_id"}},
		},
		{
			Name:        "professional_ratings",
			Description: "expert reviews; pros, cons and summary are embedded for semantic search",
			PrimaryKey:  "rating_id",
			Columns: []Column{
				required("rating_id", TypeInteger),
				required("product_id", TypeInteger),
				col("reviewer_website", TypeText),
				ranged("rating_general", TypeReal, 0, 10, ""),
				ranged("rating_gaming", TypeReal, 0, 10, ""),
				ranged("rating_office", TypeReal, 0, 10, ""),
				ranged("rating_editing", TypeReal, 0, 10, ""),
				col("pros", TypeText),
				col("cons", TypeText),
				col("summary", TypeText),
				col("review_url", TypeText),
				col("review_date", TypeDate),
			},
			ForeignKeys: []ForeignKey{{Column: "product_id", RefTable: "products", RefColumn: "product_id"}},
		},
	})
}
